package classify

import (
	"testing"

	"github.com/lgd-analytics/maude-signals/stats"
	"github.com/stretchr/testify/assert"
)

func v(f float64) *float64 { return &f }

func TestZScoreBucketsAtDefaultThresholds(t *testing.T) {
	th := NewDefaultThresholds()
	high := Method(stats.Result{Method: stats.MethodZScore, Sufficient: true, Value: v(2.1)}, th, 0)
	assert.Equal(t, StrengthHigh, high.Strength)
	elevated := Method(stats.Result{Method: stats.MethodZScore, Sufficient: true, Value: v(1.1)}, th, 0)
	assert.Equal(t, StrengthElevated, elevated.Strength)
	normal := Method(stats.Result{Method: stats.MethodZScore, Sufficient: true, Value: v(0.5)}, th, 0)
	assert.Equal(t, StrengthNormal, normal.Strength)
}

// S4: a < 3 must never signal regardless of the computed PRR value.
func TestPRRGateOnMinA(t *testing.T) {
	th := NewDefaultThresholds()
	res := stats.Result{
		Method:     stats.MethodPRR,
		Sufficient: true,
		Value:      v(10.0),
		LowerCI:    v(5.0),
		Details:    map[string]any{"a": 2},
	}
	c := Method(res, th, 0)
	assert.Equal(t, StrengthNormal, c.Strength)
	assert.False(t, c.IsSignal)
}

// Property 6: CI containment — if is_signal is true, lower_ci >= 1.0.
func TestPRRSignalImpliesLowerCIAboveOne(t *testing.T) {
	th := NewDefaultThresholds()
	res := stats.Result{
		Method:     stats.MethodPRR,
		Sufficient: true,
		Value:      v(4.0),
		LowerCI:    v(1.5),
		Details:    map[string]any{"a": 10},
	}
	c := Method(res, th, 0)
	assert.True(t, c.IsSignal)
	assert.GreaterOrEqual(t, *res.LowerCI, 1.0)
}

func TestYoYGatedOnMinEvents(t *testing.T) {
	th := NewDefaultThresholds()
	res := stats.Result{Method: stats.MethodYoY, Sufficient: true, Value: v(150.0)}
	below := Method(res, th, 5)
	assert.Equal(t, StrengthNormal, below.Strength)
	above := Method(res, th, 20)
	assert.Equal(t, StrengthHigh, above.Strength)
}

// Overall signal_type is the highest strength across the classified
// methods (spec §4.5).
func TestOverallIsMaxAcrossMethods(t *testing.T) {
	normal := Classified{Strength: StrengthNormal}
	elevated := Classified{Strength: StrengthElevated}
	high := Classified{Strength: StrengthHigh}
	assert.Equal(t, StrengthHigh, Overall([]Classified{normal, elevated, high}))
	assert.Equal(t, StrengthElevated, Overall([]Classified{normal, elevated}))
}
