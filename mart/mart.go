// Package mart materializes a precomputed monthly rollup over the event
// store, the same "refresh a wide table, then serve dashboard stats off
// it" idiom as the teacher's glass_stats mart builder, re-pointed at
// MAUDE entities instead of glass/panel inspection rows.
package mart

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lgd-analytics/maude-signals/eventstore"
)

// MartBuilder rebuilds the entity_month_rollup materialized table.
type MartBuilder struct {
	store *eventstore.Store
}

// RollupStats summarizes a refreshed rollup, mirroring the teacher's
// MartStats shape.
type RollupStats struct {
	TotalRows        int64
	MinMonth         string
	MaxMonth         string
	UniqueEntities   int64
	TotalEventCount  int64
}

// NewMartBuilder creates a new mart builder.
func NewMartBuilder(store *eventstore.Store) *MartBuilder {
	return &MartBuilder{store: store}
}

// Refresh drops and recreates entity_month_rollup: one row per
// (entity_type, entity_value, year_month), counting events via the
// same manufacturer/brand/generic/model/event-type columns the Entity
// Aggregator and classifier read live. Refreshing this table doesn't
// change Detect's results (it still reads straight off events/devices);
// it exists purely to serve cheap dashboard-style overview stats
// without re-scanning the base tables.
func (m *MartBuilder) Refresh() (RollupStats, error) {
	start := time.Now()
	stats := RollupStats{}

	db, err := m.store.Events()
	if err != nil {
		return stats, fmt.Errorf("mart: open event store: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return stats, fmt.Errorf("mart: begin refresh transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	query := `
		CREATE OR REPLACE TABLE entity_month_rollup AS
		WITH manufacturer_rows AS (
			SELECT 'manufacturer' AS entity_type, manufacturer_clean AS entity_value,
			       received_year AS year, received_month AS month, event_type
			FROM events
			WHERE manufacturer_clean IS NOT NULL AND manufacturer_clean != ''
		),
		brand_rows AS (
			SELECT 'brand_name' AS entity_type, d.brand_name AS entity_value,
			       e.received_year AS year, e.received_month AS month, e.event_type
			FROM events e JOIN devices d ON e.mdr_report_key = d.mdr_report_key
			WHERE d.brand_name IS NOT NULL AND d.brand_name != ''
		),
		generic_rows AS (
			SELECT 'generic_name' AS entity_type, d.generic_name AS entity_value,
			       e.received_year AS year, e.received_month AS month, e.event_type
			FROM events e JOIN devices d ON e.mdr_report_key = d.mdr_report_key
			WHERE d.generic_name IS NOT NULL AND d.generic_name != ''
		),
		model_rows AS (
			SELECT 'model_number' AS entity_type, d.model_number AS entity_value,
			       e.received_year AS year, e.received_month AS month, e.event_type
			FROM events e JOIN devices d ON e.mdr_report_key = d.mdr_report_key
			WHERE d.model_number IS NOT NULL AND d.model_number != ''
		),
		unioned AS (
			SELECT * FROM manufacturer_rows
			UNION ALL SELECT * FROM brand_rows
			UNION ALL SELECT * FROM generic_rows
			UNION ALL SELECT * FROM model_rows
		)
		SELECT
			entity_type,
			entity_value,
			year,
			month,
			printf('%04d-%02d', year, month) AS year_month,
			COUNT(*) AS event_count,
			SUM(CASE WHEN event_type = 'D' THEN 1 ELSE 0 END) AS death_count,
			SUM(CASE WHEN event_type = 'IN' THEN 1 ELSE 0 END) AS injury_count,
			CURRENT_TIMESTAMP AS refreshed_at
		FROM unioned
		GROUP BY entity_type, entity_value, year, month
	`

	if _, err = tx.Exec(query); err != nil {
		return stats, fmt.Errorf("mart: refresh entity_month_rollup: %w", err)
	}

	indexQueries := []string{
		`CREATE INDEX IF NOT EXISTS idx_rollup_entity ON entity_month_rollup(entity_type, entity_value)`,
		`CREATE INDEX IF NOT EXISTS idx_rollup_month ON entity_month_rollup(year_month)`,
	}
	for _, q := range indexQueries {
		if _, err = tx.Exec(q); err != nil {
			return stats, fmt.Errorf("mart: create index: %w", err)
		}
	}

	if scanErr := tx.QueryRow("SELECT COUNT(*) FROM entity_month_rollup").Scan(&stats.TotalRows); scanErr != nil {
		log.Printf("mart: warning: failed to get row count: %v", scanErr)
	}

	var minMonth, maxMonth sql.NullString
	if scanErr := tx.QueryRow("SELECT MIN(year_month), MAX(year_month) FROM entity_month_rollup").Scan(&minMonth, &maxMonth); scanErr == nil {
		stats.MinMonth = minMonth.String
		stats.MaxMonth = maxMonth.String
	}

	if scanErr := tx.QueryRow("SELECT COUNT(DISTINCT entity_type || entity_value) FROM entity_month_rollup").Scan(&stats.UniqueEntities); scanErr != nil {
		log.Printf("mart: warning: failed to get unique entity count: %v", scanErr)
	}

	if scanErr := tx.QueryRow("SELECT SUM(event_count) FROM entity_month_rollup").Scan(&stats.TotalEventCount); scanErr != nil {
		log.Printf("mart: warning: failed to get total event count: %v", scanErr)
	}

	duration := time.Since(start)
	log.Printf("mart: refresh completed in %v, rows=%d", duration, stats.TotalRows)

	return stats, nil
}

// Stats returns current statistics about the entity_month_rollup mart
// without rebuilding it.
func (m *MartBuilder) Stats() (map[string]interface{}, error) {
	db, err := m.store.Events()
	if err != nil {
		return nil, fmt.Errorf("mart: open event store: %w", err)
	}

	result := make(map[string]interface{})

	var totalRows int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM entity_month_rollup`).Scan(&totalRows); err != nil {
		return nil, err
	}
	result["total_rows"] = totalRows

	var minMonth, maxMonth sql.NullString
	if err := db.QueryRow(`SELECT MIN(year_month), MAX(year_month) FROM entity_month_rollup`).Scan(&minMonth, &maxMonth); err != nil {
		return nil, err
	}
	if minMonth.Valid {
		result["min_month"] = minMonth.String
	}
	if maxMonth.Valid {
		result["max_month"] = maxMonth.String
	}

	var totalEvents int64
	if err := db.QueryRow(`SELECT SUM(event_count) FROM entity_month_rollup`).Scan(&totalEvents); err != nil {
		return nil, err
	}
	result["total_event_count"] = totalEvents

	var uniqueEntities int64
	if err := db.QueryRow(`SELECT COUNT(DISTINCT entity_type || entity_value) FROM entity_month_rollup`).Scan(&uniqueEntities); err != nil {
		return nil, err
	}
	result["unique_entities"] = uniqueEntities

	return result, nil
}
