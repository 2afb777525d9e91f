package signals_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/lgd-analytics/maude-signals/eventstore"
	"github.com/lgd-analytics/maude-signals/filterpred"
	"github.com/lgd-analytics/maude-signals/groups"
	"github.com/lgd-analytics/maude-signals/signals"
	"github.com/lgd-analytics/maude-signals/stats"
	"github.com/lgd-analytics/maude-signals/timewindow"
)

func newTestEngine(t *testing.T) (*signals.Engine, func()) {
	t.Helper()
	store := eventstore.New("", "")
	require.NoError(t, store.Open(":memory:"))

	duckDB, err := store.Events()
	require.NoError(t, err)
	_, err = duckDB.Exec(`
		INSERT INTO events (mdr_report_key, date_received, event_type, manufacturer_clean, product_code, received_year, received_month) VALUES
			('r1','2025-08-01','M','Acme','ABC',2025,8), ('r2','2025-09-01','M','Acme','ABC',2025,9),
			('r3','2025-10-01','M','Acme','ABC',2025,10), ('r4','2025-11-01','M','Acme','ABC',2025,11),
			('r5','2025-12-01','M','Acme','ABC',2025,12), ('r6','2026-01-01','M','Acme','ABC',2026,1),
			('r7','2026-02-01','M','Acme','ABC',2026,2), ('r8','2026-03-01','M','Acme','ABC',2026,3),
			('r9','2026-04-01','M','Acme','ABC',2026,4), ('r10','2026-05-01','M','Acme','ABC',2026,5),
			('r11','2026-06-01','D','Acme','ABC',2026,6), ('r12','2026-06-02','D','Acme','ABC',2026,6),
			('r13','2026-06-03','D','Acme','ABC',2026,6), ('r14','2026-06-04','D','Acme','ABC',2026,6)
	`)
	require.NoError(t, err)

	registry := groups.NewRegistry(store.App)
	require.NoError(t, registry.CreateSchema())
	require.NoError(t, registry.Load())

	engine := signals.NewEngine(store, registry, 2)
	return engine, func() { store.Close() }
}

func TestDetectValidatesEmptyMethods(t *testing.T) {
	engine, cleanup := newTestEngine(t)
	defer cleanup()

	_, err := engine.Detect(context.Background(), signals.SignalRequest{
		Level:      filterpred.LevelManufacturer,
		TimeConfig: timewindow.Config{Mode: timewindow.ModeLookback, LookbackMonths: 12},
	})
	require.Error(t, err)
}

func TestDetectRequiresTimeConfigMode(t *testing.T) {
	engine, cleanup := newTestEngine(t)
	defer cleanup()

	_, err := engine.Detect(context.Background(), signals.SignalRequest{
		Methods: []stats.Method{stats.MethodZScore},
		Level:   filterpred.LevelManufacturer,
	})
	require.Error(t, err)
}

func TestCacheKeyStableForIdenticalRequests(t *testing.T) {
	req := signals.SignalRequest{
		Methods:    []stats.Method{stats.MethodZScore},
		Level:      filterpred.LevelManufacturer,
		TimeConfig: timewindow.Config{Mode: timewindow.ModeLookback, LookbackMonths: 12},
	}
	k1, err := signals.CacheKey(req, 1)
	require.NoError(t, err)
	k2, err := signals.CacheKey(req, 1)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, _ := signals.CacheKey(req, 2)
	require.NotEqual(t, k1, k3)
}

// S2-style end-to-end: a clear spike against a tight baseline classifies high.
func TestDetectEndToEndClassifiesSpike(t *testing.T) {
	engine, cleanup := newTestEngine(t)
	defer cleanup()

	original := signals.Clock
	signals.Clock = func() time.Time { return time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC) }
	defer func() { signals.Clock = original }()

	resp, err := engine.Detect(context.Background(), signals.SignalRequest{
		Methods:    []stats.Method{stats.MethodZScore},
		Level:      filterpred.LevelManufacturer,
		TimeConfig: timewindow.Config{Mode: timewindow.ModeLookback, LookbackMonths: 12},
		MinEvents:  1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	require.Equal(t, "Acme", resp.Results[0].Entity)
}

// S3: YoY with an empty comparison year reports value=null, is_signal=false,
// and a data_note calling out the empty comparison period, rather than a
// fabricated nonzero comparison.
func TestDetectYoYNullOnEmptyComparisonYear(t *testing.T) {
	store := eventstore.New("", "")
	require.NoError(t, store.Open(":memory:"))
	defer store.Close()

	db, err := store.Events()
	require.NoError(t, err)
	// 50 events for Zenith across 2026; nothing in the 2025 comparison year.
	for i := 1; i <= 50; i++ {
		month := (i % 10) + 1
		day := (i % 27) + 1
		key := fmt.Sprintf("zenith-%d", i)
		date := time.Date(2026, time.Month(month), day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
		_, err := db.Exec(`INSERT INTO events (mdr_report_key, date_received, event_type, manufacturer_clean, product_code, received_year, received_month) VALUES (?, ?, 'M', 'Zenith', 'XYZ', 2026, ?)`,
			key, date, month)
		require.NoError(t, err)
	}

	registry := groups.NewRegistry(store.App)
	require.NoError(t, registry.CreateSchema())
	require.NoError(t, registry.Load())

	engine := signals.NewEngine(store, registry, 2)

	resp, err := engine.Detect(context.Background(), signals.SignalRequest{
		Methods:    []stats.Method{stats.MethodYoY},
		Level:      filterpred.LevelManufacturer,
		TimeConfig: timewindow.Config{Mode: timewindow.ModeYoY, CurrentYear: 2026, ComparisonYear: 2025},
		MinEvents:  1,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	zenith := resp.Results[0]
	require.Equal(t, "Zenith", zenith.Entity)
	require.Len(t, zenith.Methods, 1)
	require.Nil(t, zenith.Methods[0].Value)
	require.False(t, zenith.Methods[0].IsSignal)
	require.NotNil(t, zenith.CurrentPeriodEvents)
	require.Equal(t, 50, *zenith.CurrentPeriodEvents)
	require.NotNil(t, zenith.ComparisonPeriodEvents)
	require.Equal(t, 0, *zenith.ComparisonPeriodEvents)
	require.Nil(t, zenith.ChangePct)
	require.Contains(t, resp.DataNote, "comparison period empty")
}

// S5/S6: an active manufacturer-level group collapses two raw manufacturers
// into one display entity with has_children=true, and drilling into that
// entity at the brand level scopes to events from every member.
func TestDetectDrillDownThroughGroupedParent(t *testing.T) {
	store := eventstore.New("", "")
	require.NoError(t, store.Open(":memory:"))
	defer store.Close()

	db, err := store.Events()
	require.NoError(t, err)
	for m := 1; m <= 6; m++ {
		date := time.Date(2026, time.Month(m), 15, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
		abbottKey := fmt.Sprintf("abbott-%d", m)
		_, err := db.Exec(`INSERT INTO events (mdr_report_key, date_received, event_type, manufacturer_clean, product_code, received_year, received_month) VALUES (?, ?, 'M', 'Abbott', 'ABC', 2026, ?)`,
			abbottKey, date, m)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO devices (mdr_report_key, brand_name, generic_name, model_number, manufacturer_d_clean, device_report_product_code, implant_flag) VALUES (?, 'CardioBrandA', 'Stent', 'M1', 'Abbott', 'ABC', false)`,
			abbottKey)
		require.NoError(t, err)

		stjudeKey := fmt.Sprintf("stjude-%d", m)
		_, err = db.Exec(`INSERT INTO events (mdr_report_key, date_received, event_type, manufacturer_clean, product_code, received_year, received_month) VALUES (?, ?, 'M', 'St Jude Medical', 'ABC', 2026, ?)`,
			stjudeKey, date, m)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO devices (mdr_report_key, brand_name, generic_name, model_number, manufacturer_d_clean, device_report_product_code, implant_flag) VALUES (?, 'CardioBrandB', 'Stent', 'M2', 'St Jude Medical', 'ABC', false)`,
			stjudeKey)
		require.NoError(t, err)
	}

	registry := groups.NewRegistry(store.App)
	require.NoError(t, registry.CreateSchema())
	require.NoError(t, registry.Load())
	_, err = registry.Create(groups.EntityGroup{
		Name:        "Abbott family",
		EntityType:  groups.EntityTypeManufacturer,
		Members:     []string{"Abbott", "St Jude Medical"},
		DisplayName: "Abbott-family",
		IsActive:    true,
	}, nil)
	require.NoError(t, err)

	engine := signals.NewEngine(store, registry, 2)
	original := signals.Clock
	signals.Clock = func() time.Time { return time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC) }
	defer func() { signals.Clock = original }()

	top, err := engine.Detect(context.Background(), signals.SignalRequest{
		Methods:    []stats.Method{stats.MethodZScore},
		Level:      filterpred.LevelManufacturer,
		TimeConfig: timewindow.Config{Mode: timewindow.ModeLookback, LookbackMonths: 12},
		MinEvents:  1,
	})
	require.NoError(t, err)
	require.Len(t, top.Results, 1)
	require.Equal(t, "Abbott-family", top.Results[0].Entity)
	require.True(t, top.Results[0].HasChildren)

	drill, err := engine.Detect(context.Background(), signals.SignalRequest{
		Methods:     []stats.Method{stats.MethodZScore},
		Level:       filterpred.LevelBrand,
		ParentValue: "Abbott-family",
		TimeConfig:  timewindow.Config{Mode: timewindow.ModeLookback, LookbackMonths: 12},
		MinEvents:   1,
	})
	require.NoError(t, err)
	var names []string
	for _, r := range drill.Results {
		names = append(names, r.Entity)
	}
	require.ElementsMatch(t, []string{"CardioBrandA", "CardioBrandB"}, names)
}