package stats

import "testing"

import "github.com/stretchr/testify/assert"

func monthly(counts ...int) []MonthlyPoint {
	out := make([]MonthlyPoint, len(counts))
	months := []string{"2025-01", "2025-02", "2025-03", "2025-04", "2025-05", "2025-06",
		"2025-07", "2025-08", "2025-09", "2025-10", "2025-11", "2025-12"}
	for i, c := range counts {
		out[i] = MonthlyPoint{Month: months[i%len(months)], Count: c}
	}
	return out
}

// S1 Z-score on flat history: baseline std is zero, value is null.
func TestZScoreFlatHistoryIsNull(t *testing.T) {
	in := SeriesInput{Monthly: monthly(10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 100)}
	res := ZScore(in)
	assert.True(t, res.Sufficient)
	assert.Nil(t, res.Value)
}

// S2 Z-score significant: large deviation on final month against a tight baseline.
func TestZScoreSignificant(t *testing.T) {
	in := SeriesInput{Monthly: monthly(8, 12, 9, 11, 10, 9, 10, 11, 10, 9, 12, 30)}
	res := ZScore(in)
	assert.True(t, res.Sufficient)
	assert.NotNil(t, res.Value)
	assert.Greater(t, *res.Value, 10.0)
}

// S3 YoY null: comparison period empty, current period non-empty.
func TestYoYNullWhenComparisonEmpty(t *testing.T) {
	in := SeriesInput{CurrentPeriodEvents: 50, ComparisonPeriodEvents: 0}
	res := YoYPoP(MethodYoY, in)
	assert.Nil(t, res.Value)
	assert.Equal(t, true, res.Details["comparison_period_empty"])
}

// S4 PRR with gates: a < 3 means the classifier must refuse to signal
// regardless of the computed ratio; PRR itself still computes a value.
func TestPRRComputesDespiteLowA(t *testing.T) {
	res := PRR(Contingency{A: 2, B: 100, C: 50, D: 10000})
	assert.True(t, res.Sufficient)
	assert.NotNil(t, res.Value)
	assert.Greater(t, *res.Value, 1.0)
}

func TestRORUndefinedOnZeroCell(t *testing.T) {
	res := ROR(Contingency{A: 5, B: 0, C: 10, D: 20})
	assert.False(t, res.Sufficient)
	assert.Nil(t, res.Value)
}

func TestEBGMShrinkageAndEB05(t *testing.T) {
	res := EBGM(Contingency{A: 20, B: 80, C: 100, D: 9800})
	assert.True(t, res.Sufficient)
	assert.NotNil(t, res.Value)
	assert.NotNil(t, res.LowerCI)
	assert.Less(t, *res.LowerCI, *res.Value)
}

func TestCUSUMAccumulatesOnSustainedDrift(t *testing.T) {
	res := CUSUM(SeriesInput{Monthly: monthly(10, 10, 10, 10, 10, 10, 25, 25, 25, 25)})
	assert.True(t, res.Sufficient)
	assert.NotNil(t, res.Value)
	assert.Greater(t, *res.Value, 0.0)
}

func TestRollingRequiresWindowPlusOne(t *testing.T) {
	res := Rolling(SeriesInput{Monthly: monthly(10, 11, 9), Window: 6})
	assert.False(t, res.Sufficient)
	assert.Nil(t, res.Value)
}
