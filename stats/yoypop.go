package stats

import "math"

// YoYPoP computes the percent change between a current and comparison
// period: 100*(current-comparison)/max(comparison,1). Per spec, when the
// comparison period is empty and the current period is not, the result is
// reported as null (not +Inf) with Sufficient left true so the caller can
// still emit a data_note explaining why.
func YoYPoP(method Method, in SeriesInput) Result {
	res := Result{Method: method, Sufficient: true}
	current := float64(in.CurrentPeriodEvents)
	comparison := float64(in.ComparisonPeriodEvents)

	res.Details = map[string]any{
		"current_period":    in.CurrentPeriodEvents,
		"comparison_period":  in.ComparisonPeriodEvents,
	}

	if comparison == 0 && current > 0 {
		res.Details["comparison_period_empty"] = true
		return res
	}

	denom := math.Max(comparison, 1)
	res.Value = ptr(100 * (current - comparison) / denom)
	return res
}
