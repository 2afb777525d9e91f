package timewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookbackResolvesAnalysisWindow(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	w, err := Resolve(Config{Mode: ModeLookback, LookbackMonths: 12}, today, 0)
	require.NoError(t, err)
	assert.Equal(t, 2025, w.AnalysisStart.Year())
	assert.Equal(t, time.July, w.AnalysisStart.Month())
	assert.Nil(t, w.ComparisonStart)
}

// Property 9: analysis_end > last_complete_month implies a completeness note.
func TestIncompleteMonthsFlaggedWhenWindowTouchesLag(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	w, err := Resolve(Config{Mode: ModeLookback, LookbackMonths: 3}, today, 2)
	require.NoError(t, err)
	assert.NotEmpty(t, w.IncompleteMonths)
	assert.Equal(t, "2026-05", w.LastCompleteMonth)
}

func TestYoYResolvesMatchingSpans(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	w, err := Resolve(Config{Mode: ModeYoY, CurrentYear: 2025, ComparisonYear: 2024}, today, 2)
	require.NoError(t, err)
	require.NotNil(t, w.ComparisonStart)
	assert.Equal(t, 2025, w.AnalysisStart.Year())
	assert.Equal(t, 2024, w.ComparisonStart.Year())
}

func TestCustomModeFlagsLengthMismatch(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	a := Period{Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)}
	b := Period{Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)}
	w, err := Resolve(Config{Mode: ModeCustom, PeriodA: &a, PeriodB: &b}, today, 2)
	require.NoError(t, err)
	assert.NotEmpty(t, w.DataNote)
}

func TestRollingModeRequiresWindow(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	_, err := Resolve(Config{Mode: ModeRolling}, today, 2)
	assert.Error(t, err)
}
