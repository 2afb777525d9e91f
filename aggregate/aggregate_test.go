package aggregate_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/stretchr/testify/require"

	"github.com/lgd-analytics/maude-signals/aggregate"
	"github.com/lgd-analytics/maude-signals/filterpred"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE events (
			mdr_report_key TEXT, date_received DATE, event_type TEXT,
			manufacturer_clean TEXT, product_code TEXT
		);
		CREATE TABLE devices (
			mdr_report_key TEXT, brand_name TEXT, generic_name TEXT,
			model_number TEXT, manufacturer_d_clean TEXT,
			device_report_product_code TEXT, implant_flag BOOLEAN
		);
	`)
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO events VALUES
			('r1', '2026-01-15', 'D',  'Abbott', 'ABC'),
			('r2', '2026-01-20', 'IN', 'Abbott', 'ABC'),
			('r3', '2026-02-01', 'M',  'St Jude Medical', 'ABC'),
			('r4', '2026-02-10', 'D',  'Pfizer', 'XYZ')
	`)
	require.NoError(t, err)
	return db
}

// S5 Group rewrite: a single aggregated row for the group's display name
// summing both members' counts.
func TestAggregateAppliesGroupRewrite(t *testing.T) {
	db := newTestDB(t)
	expr := filterpred.EntityExpression{
		Column: "manufacturer_clean",
		Cases: []filterpred.EntityCase{{
			DisplayName: "Abbott-family",
			Members:     map[string]struct{}{"abbott": {}, "st jude medical": {}},
		}},
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	res, err := aggregate.Aggregate(context.Background(), db, filterpred.LevelManufacturer,
		filterpred.Predicate{}, expr, start, end, start, nil, nil, 1)
	require.NoError(t, err)

	var found aggregate.EntityTotals
	for _, e := range res.Totals {
		if e.Entity == "Abbott-family" {
			found = e
		}
	}
	require.Equal(t, 3, found.Total)
}

// Property 5: entities below min_events never appear.
func TestAggregateDropsBelowMinEvents(t *testing.T) {
	db := newTestDB(t)
	expr := filterpred.EntityExpression{Column: "manufacturer_clean"}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	res, err := aggregate.Aggregate(context.Background(), db, filterpred.LevelManufacturer,
		filterpred.Predicate{}, expr, start, end, start, nil, nil, 2)
	require.NoError(t, err)

	for _, e := range res.Totals {
		require.GreaterOrEqual(t, e.Total, 2)
	}
	require.Positive(t, res.DroppedBelowMinEvents)
}
