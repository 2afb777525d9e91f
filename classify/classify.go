// Package classify implements the threshold engine (C5): it turns a
// stats.Result into a signal strength per method, then merges per-method
// strengths into one overall strength per entity.
package classify

import "github.com/lgd-analytics/maude-signals/stats"

// Strength is the three-way severity ladder every method and the overall
// SignalResult are classified into.
type Strength string

const (
	StrengthNormal   Strength = "normal"
	StrengthElevated Strength = "elevated"
	StrengthHigh     Strength = "high"
)

var rank = map[Strength]int{StrengthNormal: 0, StrengthElevated: 1, StrengthHigh: 2}

// Max returns the higher-ranked of two strengths.
func Max(a, b Strength) Strength {
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Thresholds holds the per-method cut points, overridable per request;
// NewDefaultThresholds returns the values in spec §4.5.
type Thresholds struct {
	ZScoreHigh, ZScoreElevated   float64
	RollingHigh, RollingElevated float64
	CUSUMHigh, CUSUMElevated     float64
	PRRHigh, PRRElevated         float64
	RORHigh, RORElevated         float64
	EBGMHigh, EBGMElevated       float64
	YoYHigh, YoYElevated         float64 // percent
	PoPHigh, PoPElevated         float64 // percent
	MinEvents                    int
}

func NewDefaultThresholds() Thresholds {
	return Thresholds{
		ZScoreHigh: 2.0, ZScoreElevated: 1.0,
		RollingHigh: 2.0, RollingElevated: 1.0,
		CUSUMHigh: 5.0, CUSUMElevated: 3.0,
		PRRHigh: 3.0, PRRElevated: 2.0,
		RORHigh: 3.0, RORElevated: 2.0,
		EBGMHigh: 3.0, EBGMElevated: 2.0,
		YoYHigh: 100.0, YoYElevated: 50.0,
		PoPHigh: 100.0, PoPElevated: 50.0,
		MinEvents: 10,
	}
}

// Classified pairs a raw method result with its computed strength.
type Classified struct {
	Result     stats.Result
	Strength   Strength
	IsSignal   bool
}

// Method classifies a single stats.Result. currentPeriodEvents is only
// consulted for yoy/pop, which gate on min_events per spec §4.5.
func Method(res stats.Result, th Thresholds, currentPeriodEvents int) Classified {
	c := Classified{Result: res, Strength: StrengthNormal}
	if !res.Sufficient || res.Value == nil {
		return c
	}
	v := *res.Value

	switch res.Method {
	case stats.MethodZScore:
		c.Strength = bucket(v, th.ZScoreHigh, th.ZScoreElevated)
	case stats.MethodRolling:
		c.Strength = bucket(v, th.RollingHigh, th.RollingElevated)
	case stats.MethodCUSUM:
		c.Strength = bucket(v, th.CUSUMHigh, th.CUSUMElevated)
	case stats.MethodPRR:
		c.Strength = disproportionalityBucket(res, v, th.PRRHigh, th.PRRElevated)
	case stats.MethodROR:
		c.Strength = disproportionalityBucket(res, v, th.RORHigh, th.RORElevated)
	case stats.MethodEBGM:
		// EBGM gates on EB05 (LowerCI) >= 1.0, same shape as PRR/ROR, using
		// the EBGM point estimate against EBGM-specific thresholds.
		c.Strength = disproportionalityBucket(res, v, th.EBGMHigh, th.EBGMElevated)
	case stats.MethodYoY:
		if currentPeriodEvents >= th.MinEvents {
			c.Strength = bucket(v, th.YoYHigh, th.YoYElevated)
		}
	case stats.MethodPoP:
		if currentPeriodEvents >= th.MinEvents {
			c.Strength = bucket(v, th.PoPHigh, th.PoPElevated)
		}
	}
	c.IsSignal = c.Strength != StrengthNormal
	return c
}

func bucket(v, high, elevated float64) Strength {
	switch {
	case v > high:
		return StrengthHigh
	case v > elevated:
		return StrengthElevated
	default:
		return StrengthNormal
	}
}

// disproportionalityBucket enforces the lower_ci >= 1.0 and a >= 3 gates
// shared by PRR/ROR/EBGM before applying the high/elevated cut points.
func disproportionalityBucket(res stats.Result, v, high, elevated float64) Strength {
	a, _ := res.Details["a"].(int)
	if res.Method == stats.MethodEBGM {
		a, _ = res.Details["observed"].(int)
	}
	if a < 3 {
		return StrengthNormal
	}
	if res.LowerCI == nil || *res.LowerCI < 1.0 {
		return StrengthNormal
	}
	return bucketGTE(v, high, elevated)
}

// bucketGTE is bucket's >= variant, used for prr/ror/ebgm per spec §4.5
// ("high >= 3.0", "elevated >= 2.0") as opposed to the strict ">" used
// by zscore/rolling/cusum/yoy/pop.
func bucketGTE(v, high, elevated float64) Strength {
	switch {
	case v >= high:
		return StrengthHigh
	case v >= elevated:
		return StrengthElevated
	default:
		return StrengthNormal
	}
}

// Overall merges per-method classifications into one SignalResult-level
// strength: the max across all computed methods, per spec §4.5.
func Overall(classified []Classified) Strength {
	overall := StrengthNormal
	for _, c := range classified {
		overall = Max(overall, c.Strength)
	}
	return overall
}
