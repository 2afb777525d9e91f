package stats

// ZScore computes (x_target - mean) / std over a baseline of all months
// except the comparison month (or except the last month, if none is
// named). Requires at least 3 months total; returns Sufficient=false
// otherwise. A zero baseline std also yields a null value, per spec.
func ZScore(in SeriesInput) Result {
	res := Result{Method: MethodZScore}
	if len(in.Monthly) < 3 {
		return res
	}
	res.Sufficient = true

	targetIdx := len(in.Monthly) - 1
	if in.ComparisonMonth != "" {
		for i, m := range in.Monthly {
			if m.Month == in.ComparisonMonth {
				targetIdx = i
				break
			}
		}
	}

	baseline := make([]float64, 0, len(in.Monthly)-1)
	for i, m := range in.Monthly {
		if i == targetIdx {
			continue
		}
		baseline = append(baseline, float64(m.Count))
	}

	mean, std, _ := meanStd(baseline)
	target := float64(in.Monthly[targetIdx].Count)

	res.Details = map[string]any{
		"avg_monthly":    mean,
		"std_monthly":    std,
		"latest_month":   in.Monthly[targetIdx].Month,
		"monthly_series": monthlySeriesDetail(in.Monthly),
	}

	if std == 0 {
		return res
	}
	res.Value = ptr((target - mean) / std)
	return res
}
