package stats

// Rolling computes (x_latest - rollingMean) / rollingStd over the window
// months immediately preceding the latest month. Requires T >= window+1.
func Rolling(in SeriesInput) Result {
	res := Result{Method: MethodRolling}
	window := in.Window
	if window <= 0 {
		window = 3
	}
	if len(in.Monthly) < window+1 {
		return res
	}
	res.Sufficient = true

	latest := in.Monthly[len(in.Monthly)-1]
	precedingStart := len(in.Monthly) - 1 - window
	preceding := make([]float64, 0, window)
	for _, m := range in.Monthly[precedingStart : len(in.Monthly)-1] {
		preceding = append(preceding, float64(m.Count))
	}

	mean, std, _ := meanStd(preceding)

	res.Details = map[string]any{
		"rolling_avg":    mean,
		"rolling_std":    std,
		"latest":         latest.Count,
		"window_months":  window,
		"monthly_series": monthlySeriesDetail(in.Monthly),
	}

	if std == 0 {
		return res
	}
	res.Value = ptr((float64(latest.Count) - mean) / std)
	return res
}
