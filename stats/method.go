// Package stats implements the pure statistical methods used to score a
// single entity's monthly adverse-event series or contingency table:
// z-score, rolling z-score, CUSUM, year-over-year / period-over-period
// change, and the disproportionality trio PRR/ROR/EBGM.
//
// Every method is a pure function: same input, same output, no store
// access, no shared state. The orchestrator calls these from a table
// keyed by Method rather than through an interface hierarchy.
package stats

import "math"

// Method identifies one of the eight statistical techniques a request can ask for.
type Method string

const (
	MethodZScore  Method = "zscore"
	MethodRolling Method = "rolling"
	MethodCUSUM   Method = "cusum"
	MethodYoY     Method = "yoy"
	MethodPoP     Method = "pop"
	MethodPRR     Method = "prr"
	MethodROR     Method = "ror"
	MethodEBGM    Method = "ebgm"
)

// MonthlyPoint is one bucket of a contiguous, zero-filled monthly series.
type MonthlyPoint struct {
	Month string // "YYYY-MM"
	Count int
}

// SeriesInput is the shared input shape for the time-series methods
// (zscore, rolling, cusum, yoy, pop).
type SeriesInput struct {
	Monthly []MonthlyPoint
	// ComparisonMonth, if non-empty, names the month excluded from the
	// z-score baseline and used as the z-score target in place of the
	// last month. YoY/PoP do not read it.
	ComparisonMonth string
	// Window is the trailing window length (months) for Rolling.
	Window int
	// CurrentPeriodEvents/ComparisonPeriodEvents are precomputed period
	// totals for YoY/PoP, supplied by the engine from the aggregator's
	// analysis-window and comparison-window totals.
	CurrentPeriodEvents    int
	ComparisonPeriodEvents int
}

// Contingency is the 2x2 table disproportionality methods operate on:
// a = entity deaths, b = entity non-deaths, c = others' deaths, d = others' non-deaths.
type Contingency struct {
	A, B, C, D int
}

// Result is the polymorphic output every method produces. Details is a
// method-specific, JSON-serializable map — the "tagged record" the design
// notes call for, discriminated by Method rather than by Go type.
type Result struct {
	Method    Method
	Value     *float64
	LowerCI   *float64
	UpperCI   *float64
	Details   map[string]any
	Sufficient bool // false => insufficient history/data for this method on this entity
}

func ptr(f float64) *float64 { return &f }

func meanStd(xs []float64) (mean, std float64, ok bool) {
	n := len(xs)
	if n == 0 {
		return 0, 0, false
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, 0, true
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	std = math.Sqrt(sumSq / float64(n-1))
	return mean, std, true
}

func monthlySeriesDetail(monthly []MonthlyPoint) []map[string]any {
	out := make([]map[string]any, 0, len(monthly))
	for _, m := range monthly {
		out = append(out, map[string]any{"month": m.Month, "count": m.Count})
	}
	return out
}
