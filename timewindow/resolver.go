// Package timewindow implements the Time Window Resolver (C2): it turns a
// tagged TimeComparisonConfig plus an injected "today" clock into concrete
// analysis/comparison windows and a data-completeness assessment.
package timewindow

import (
	"fmt"
	"time"
)

// Mode is the tagged-union discriminant for TimeComparisonConfig.
type Mode string

const (
	ModeLookback Mode = "lookback"
	ModeCustom   Mode = "custom"
	ModeYoY      Mode = "yoy"
	ModeRolling  Mode = "rolling"
)

// Period is an inclusive [Start, End] calendar-month range.
type Period struct {
	Start time.Time
	End   time.Time
}

// Config is the tagged record discriminated by Mode; only the fields for
// the active mode are meaningful, per the "tagged variants over
// subtyping" design note.
type Config struct {
	Mode Mode

	LookbackMonths int

	PeriodA *Period
	PeriodB *Period

	CurrentYear      int
	ComparisonYear   int
	Quarter          int // 0 = whole year

	RollingWindowMonths int

	ComparisonMonth string // optional explicit "YYYY-MM", used by zscore
}

// Windows is C2's resolved output.
type Windows struct {
	AnalysisStart, AnalysisEnd     time.Time
	ComparisonStart, ComparisonEnd *time.Time
	RollingWindowMonths            int
	ComparisonMonth                string

	EstimatedLagMonths int
	LastCompleteMonth  string   // "YYYY-MM"
	IncompleteMonths   []string // "YYYY-MM", months within the analysis window affected by lag

	DataNote string // set when PeriodA/PeriodB lengths differ by >20%, etc.
}

const DefaultLagMonths = 2

// Resolve converts cfg into Windows, using today as the injected clock
// and lagMonths as the ingestion-lag override (DefaultLagMonths if <= 0).
func Resolve(cfg Config, today time.Time, lagMonths int) (Windows, error) {
	if lagMonths <= 0 {
		lagMonths = DefaultLagMonths
	}
	w := Windows{EstimatedLagMonths: lagMonths, ComparisonMonth: cfg.ComparisonMonth}

	switch cfg.Mode {
	case ModeLookback:
		if cfg.LookbackMonths <= 0 {
			return w, fmt.Errorf("timewindow: lookback mode requires lookback_months > 0")
		}
		w.AnalysisStart = startOfMonth(addMonths(today, -cfg.LookbackMonths))
		w.AnalysisEnd = endOfMonth(today)

	case ModeCustom:
		if cfg.PeriodA == nil || cfg.PeriodB == nil {
			return w, fmt.Errorf("timewindow: custom mode requires both period_a and period_b")
		}
		w.AnalysisStart = cfg.PeriodA.Start
		w.AnalysisEnd = cfg.PeriodA.End
		w.ComparisonStart = &cfg.PeriodB.Start
		w.ComparisonEnd = &cfg.PeriodB.End

		lenA := cfg.PeriodA.End.Sub(cfg.PeriodA.Start)
		lenB := cfg.PeriodB.End.Sub(cfg.PeriodB.Start)
		if lenA > 0 && lenB > 0 {
			ratio := float64(lenA) / float64(lenB)
			if ratio > 1.2 || ratio < 0.8 {
				w.DataNote = "analysis and comparison periods differ in length by more than 20%"
			}
		}

	case ModeYoY:
		if cfg.CurrentYear == 0 || cfg.ComparisonYear == 0 {
			return w, fmt.Errorf("timewindow: yoy mode requires current_year and comparison_year")
		}
		as, ae := yearSpan(cfg.CurrentYear, cfg.Quarter)
		cs, ce := yearSpan(cfg.ComparisonYear, cfg.Quarter)
		w.AnalysisStart, w.AnalysisEnd = as, ae
		w.ComparisonStart, w.ComparisonEnd = &cs, &ce

	case ModeRolling:
		if cfg.RollingWindowMonths <= 0 {
			return w, fmt.Errorf("timewindow: rolling mode requires rolling_window_months > 0")
		}
		lookback := cfg.LookbackMonths
		if lookback <= 0 {
			lookback = cfg.RollingWindowMonths + 1
		}
		w.AnalysisStart = startOfMonth(addMonths(today, -lookback))
		w.AnalysisEnd = endOfMonth(today)
		w.RollingWindowMonths = cfg.RollingWindowMonths

	default:
		return w, fmt.Errorf("timewindow: unknown mode %q", cfg.Mode)
	}

	lastComplete := endOfMonth(addMonths(today, -lagMonths))
	w.LastCompleteMonth = monthKey(lastComplete)
	w.IncompleteMonths = incompleteMonthsBetween(w.AnalysisStart, w.AnalysisEnd, lastComplete)

	return w, nil
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func endOfMonth(t time.Time) time.Time {
	return startOfMonth(t).AddDate(0, 1, 0).Add(-time.Nanosecond)
}

func addMonths(t time.Time, months int) time.Time {
	return t.AddDate(0, months, 0)
}

func monthKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

func yearSpan(year, quarter int) (time.Time, time.Time) {
	if quarter <= 0 {
		return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
			endOfMonth(time.Date(year, 12, 1, 0, 0, 0, 0, time.UTC))
	}
	startMonth := time.Month((quarter-1)*3 + 1)
	start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	return start, endOfMonth(start.AddDate(0, 2, 0))
}

func incompleteMonthsBetween(start, end, lastComplete time.Time) []string {
	var months []string
	cur := startOfMonth(start)
	for !cur.After(end) {
		if cur.After(lastComplete) {
			months = append(months, monthKey(cur))
		}
		cur = cur.AddDate(0, 1, 0)
	}
	return months
}
