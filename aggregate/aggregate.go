// Package aggregate implements the Entity Aggregator (C3): given a level,
// a predicate, and an entity expression, it produces per-entity totals,
// contiguous zero-filled monthly series, and the global contingency
// totals the disproportionality methods need. Grounded on the teacher's
// analysis/analyzer.go dynamic SQL builders (queryGlassLevel et al.) and
// database/analysis_v2_repo.go's hierarchical CTE pattern, generalized
// from manufacturing defect counts to MAUDE event/death/injury counts.
package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lgd-analytics/maude-signals/eventstore"
	"github.com/lgd-analytics/maude-signals/filterpred"
)

// EntityTotals is one entity's totals over the analysis window.
type EntityTotals struct {
	Entity       string
	Total        int
	Deaths       int
	Injuries     int
	Malfunctions int
}

// MonthlyCount is one zero-filled YYYY-MM bucket for one entity.
type MonthlyCount struct {
	Month string
	Count int
}

// GlobalTotals is the comparison-population 2x2 baseline: deaths vs
// non-deaths across every event matching the predicate, the scored
// entity included; ContingencyFor subtracts the entity's own counts.
type GlobalTotals struct {
	TotalDeaths    int
	TotalNonDeaths int
}

// Result is C3's complete output for one detect() call.
type Result struct {
	Totals       []EntityTotals
	Monthly      map[string][]MonthlyCount // entity -> contiguous series
	Global       GlobalTotals
	Comparison   map[string]int // entity -> total events in the resolved comparison window (yoy/pop); nil if no comparison window
	DroppedBelowMinEvents int
}

// Querier is the subset of *sql.DB aggregate needs, so tests can use an
// in-memory DuckDB handle without importing eventstore.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Aggregate runs the per-entity totals + monthly + global queries
// against db for the given level/predicate/entity expression, over
// [analysisStart, analysisEnd] plus whatever earlier history
// monthlyHorizonStart requires (the union of every requested method's
// required baseline, computed by the caller in signals.Engine).
func Aggregate(ctx context.Context, db Querier, level filterpred.EntityLevel, pred filterpred.Predicate, expr filterpred.EntityExpression, analysisStart, analysisEnd, monthlyHorizonStart time.Time, comparisonStart, comparisonEnd *time.Time, minEvents int) (Result, error) {
	res := Result{Monthly: map[string][]MonthlyCount{}}

	totalsSQL, totalsArgs := eventstore.BuildTotalsQuery(level, pred, expr, analysisStart, analysisEnd)
	rows, err := db.QueryContext(ctx, totalsSQL, totalsArgs...)
	if err != nil {
		return res, fmt.Errorf("aggregate: totals query: %w", err)
	}
	var all []EntityTotals
	for rows.Next() {
		var t EntityTotals
		if err := rows.Scan(&t.Entity, &t.Total, &t.Deaths, &t.Injuries, &t.Malfunctions); err != nil {
			rows.Close()
			return res, fmt.Errorf("aggregate: scan totals: %w", err)
		}
		all = append(all, t)
	}
	rows.Close()

	for _, t := range all {
		if t.Total < minEvents {
			res.DroppedBelowMinEvents++
			continue
		}
		res.Totals = append(res.Totals, t)
	}
	// Ordering invariant: deterministic entity order downstream of sort/truncate.
	sort.Slice(res.Totals, func(i, j int) bool { return res.Totals[i].Entity < res.Totals[j].Entity })

	monthlySQL, monthlyArgs := eventstore.BuildMonthlyQuery(level, pred, expr, monthlyHorizonStart, analysisEnd)
	mrows, err := db.QueryContext(ctx, monthlySQL, monthlyArgs...)
	if err != nil {
		return res, fmt.Errorf("aggregate: monthly query: %w", err)
	}
	raw := map[string]map[string]int{}
	for mrows.Next() {
		var entity, month string
		var count int
		if err := mrows.Scan(&entity, &month, &count); err != nil {
			mrows.Close()
			return res, fmt.Errorf("aggregate: scan monthly: %w", err)
		}
		if raw[entity] == nil {
			raw[entity] = map[string]int{}
		}
		raw[entity][month] = count
	}
	mrows.Close()

	months := contiguousMonths(monthlyHorizonStart, analysisEnd)
	for _, t := range res.Totals {
		series := make([]MonthlyCount, len(months))
		for i, m := range months {
			series[i] = MonthlyCount{Month: m, Count: raw[t.Entity][m]}
		}
		res.Monthly[t.Entity] = series
	}

	globalSQL, globalArgs := eventstore.BuildGlobalQuery(pred, analysisStart, analysisEnd)
	gRows, err := db.QueryContext(ctx, globalSQL, globalArgs...)
	if err != nil {
		return res, fmt.Errorf("aggregate: global query: %w", err)
	}
	if gRows.Next() {
		if err := gRows.Scan(&res.Global.TotalDeaths, &res.Global.TotalNonDeaths); err != nil {
			gRows.Close()
			return res, fmt.Errorf("aggregate: scan global: %w", err)
		}
	}
	gRows.Close()

	if comparisonStart != nil && comparisonEnd != nil {
		comparison, err := ComparisonTotals(ctx, db, level, pred, expr, *comparisonStart, *comparisonEnd)
		if err != nil {
			return res, err
		}
		res.Comparison = comparison
	}

	return res, nil
}

// ComparisonTotals aggregates per-entity total event counts over
// [start, end] using the same predicate and entity expression as the
// analysis-window totals query, so group rewrites stay consistent. This
// is the real per-entity comparison-window total YoY/PoP need (spec
// §4.4), in place of any same-series stand-in.
func ComparisonTotals(ctx context.Context, db Querier, level filterpred.EntityLevel, pred filterpred.Predicate, expr filterpred.EntityExpression, start, end time.Time) (map[string]int, error) {
	totalsSQL, args := eventstore.BuildTotalsQuery(level, pred, expr, start, end)
	rows, err := db.QueryContext(ctx, totalsSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate: comparison totals query: %w", err)
	}
	defer rows.Close()

	totals := map[string]int{}
	for rows.Next() {
		var entity string
		var total, deaths, injuries, malfunctions int
		if err := rows.Scan(&entity, &total, &deaths, &injuries, &malfunctions); err != nil {
			return nil, fmt.Errorf("aggregate: scan comparison totals: %w", err)
		}
		totals[entity] = total
	}
	return totals, nil
}

// ContingencyFor builds the PRR/ROR/EBGM 2x2 table for one entity given
// its totals and the global comparison totals: a/b are the entity's own
// deaths/non-deaths, c/d are the comparison population's deaths/
// non-deaths with the entity's own counts removed.
func ContingencyFor(t EntityTotals, global GlobalTotals) (a, b, c, d int) {
	a = t.Deaths
	b = t.Total - t.Deaths
	c = global.TotalDeaths - t.Deaths
	d = global.TotalNonDeaths - b
	if c < 0 {
		c = 0
	}
	if d < 0 {
		d = 0
	}
	return
}

func contiguousMonths(start, end time.Time) []string {
	var months []string
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		months = append(months, fmt.Sprintf("%04d-%02d", cur.Year(), int(cur.Month())))
		cur = cur.AddDate(0, 1, 0)
	}
	return months
}

// HasChildren runs a bounded existence probe for childLevel, given a
// predicate already scoped to the parent entity (filterpred.ScopeToParent,
// with group members expanded by the caller) — per spec §4.6 step 9,
// deliberately NOT the "level != model => always true" shortcut the
// design notes warn against (DESIGN.md Open Question 2).
func HasChildren(ctx context.Context, db Querier, childLevel filterpred.EntityLevel, scopedPred filterpred.Predicate) (bool, error) {
	existsSQL, args := eventstore.BuildExistsQuery(childLevel, scopedPred)
	rows, err := db.QueryContext(ctx, existsSQL, args...)
	if err != nil {
		return false, fmt.Errorf("aggregate: has_children probe: %w", err)
	}
	defer rows.Close()
	return rows.Next(), nil
}
