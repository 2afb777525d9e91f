package stats

import "math"

// CUSUM runs a one-sided cumulative-sum control procedure: target mean is
// the mean over all months but the last, slack k = 0.5*std, and the
// reported value is the maximum of the running statistic. The control
// limit h = 4*std is informational (classification uses the fixed
// thresholds in the classify package, not h).
func CUSUM(in SeriesInput) Result {
	res := Result{Method: MethodCUSUM}
	if len(in.Monthly) < 3 {
		return res
	}
	res.Sufficient = true

	baseline := make([]float64, 0, len(in.Monthly)-1)
	for _, m := range in.Monthly[:len(in.Monthly)-1] {
		baseline = append(baseline, float64(m.Count))
	}
	mean, std, _ := meanStd(baseline)

	k := 0.5 * std
	h := 4 * std

	series := make([]float64, len(in.Monthly))
	var s float64
	for i, m := range in.Monthly {
		s = math.Max(0, s+float64(m.Count)-mean-k)
		series[i] = s
	}

	maxS := 0.0
	for _, v := range series {
		if v > maxS {
			maxS = v
		}
	}

	res.Details = map[string]any{
		"mean":          mean,
		"std":           std,
		"control_limit": h,
		"cusum_series":  series,
	}
	res.Value = ptr(maxS)
	return res
}
