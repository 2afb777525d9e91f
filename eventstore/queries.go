package eventstore

import (
	"fmt"
	"time"

	"github.com/lgd-analytics/maude-signals/filterpred"
)

const dateLayout = "2006-01-02"

// levelSource returns the FROM/JOIN clause and the column alias an entity
// expression should read from for the given level: manufacturer reads
// directly off events, while brand/generic/model read off the joined
// devices relation.
func levelSource(level filterpred.EntityLevel) (from string, colAlias string) {
	switch level {
	case filterpred.LevelManufacturer:
		return "events e", "e"
	default:
		return "events e JOIN devices d ON d.mdr_report_key = e.mdr_report_key", "d"
	}
}

// BuildTotalsQuery produces the per_entity_totals query (spec §4.3.1):
// entity, total, deaths, injuries, malfunctions over [start, end].
func BuildTotalsQuery(level filterpred.EntityLevel, pred filterpred.Predicate, expr filterpred.EntityExpression, start, end time.Time) (string, []any) {
	from, colAlias := levelSource(level)
	where, whereArgs := CompilePredicate("e", pred)
	entityExpr, exprArgs := EntityExpressionSQL(colAlias, expr)

	query := fmt.Sprintf(`
		SELECT
			%s AS entity,
			COUNT(*) AS total,
			SUM(CASE WHEN e.event_type = 'D' THEN 1 ELSE 0 END) AS deaths,
			SUM(CASE WHEN e.event_type = 'IN' THEN 1 ELSE 0 END) AS injuries,
			SUM(CASE WHEN e.event_type = 'M' THEN 1 ELSE 0 END) AS malfunctions
		FROM %s
		WHERE %s AND e.date_received BETWEEN ? AND ?
		GROUP BY entity
	`, entityExpr, from, where)

	args := append(append([]any{}, exprArgs...), whereArgs...)
	args = append(args, start.Format(dateLayout), end.Format(dateLayout))
	return query, args
}

// BuildMonthlyQuery produces per_entity_monthly raw (non-zero-filled)
// counts; the caller zero-fills the contiguous horizon.
func BuildMonthlyQuery(level filterpred.EntityLevel, pred filterpred.Predicate, expr filterpred.EntityExpression, start, end time.Time) (string, []any) {
	from, colAlias := levelSource(level)
	where, whereArgs := CompilePredicate("e", pred)
	entityExpr, exprArgs := EntityExpressionSQL(colAlias, expr)

	query := fmt.Sprintf(`
		SELECT
			%s AS entity,
			strftime(e.date_received, '%%Y-%%m') AS month,
			COUNT(*) AS count
		FROM %s
		WHERE %s AND e.date_received BETWEEN ? AND ?
		GROUP BY entity, month
	`, entityExpr, from, where)

	args := append(append([]any{}, exprArgs...), whereArgs...)
	args = append(args, start.Format(dateLayout), end.Format(dateLayout))
	return query, args
}

// BuildGlobalQuery produces the comparison-population 2x2 baseline: total
// deaths and total non-deaths across all events matching pred over
// [start, end]. pred is used as given: the engine passes the request's
// own filter predicate, so comparison_population does not change this
// baseline.
func BuildGlobalQuery(pred filterpred.Predicate, start, end time.Time) (string, []any) {
	where, whereArgs := CompilePredicate("e", pred)
	query := fmt.Sprintf(`
		SELECT
			SUM(CASE WHEN e.event_type = 'D' THEN 1 ELSE 0 END) AS total_deaths,
			SUM(CASE WHEN e.event_type != 'D' THEN 1 ELSE 0 END) AS total_non_deaths
		FROM events e
		WHERE %s AND e.date_received BETWEEN ? AND ?
	`, where)
	args := append(append([]any{}, whereArgs...), start.Format(dateLayout), end.Format(dateLayout))
	return query, args
}

// BuildExistsQuery is the bounded has_children existence probe: does at
// least one row match pred (already scoped to the parent entity and
// advanced to the child level)?
func BuildExistsQuery(level filterpred.EntityLevel, pred filterpred.Predicate) (string, []any) {
	from, colAlias := levelSource(level)
	where, args := CompilePredicate("e", pred)
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE %s AND %s.%s IS NOT NULL LIMIT 1`, from, where, colAlias, level.Column())
	return query, args
}

// BuildDistinctEntitiesQuery lists raw entity values at level (no group
// collapsing applied), for the entity-group editor's "available entities"
// picker.
func BuildDistinctEntitiesQuery(level filterpred.EntityLevel, limit int) (string, []any) {
	from, colAlias := levelSource(level)
	col := fmt.Sprintf("%s.%s", colAlias, level.Column())
	query := fmt.Sprintf(`
		SELECT %s AS entity, COUNT(*) AS total
		FROM %s
		WHERE %s IS NOT NULL AND %s != ''
		GROUP BY entity
		ORDER BY total DESC
		LIMIT ?
	`, col, from, col, col)
	return query, []any{limit}
}
