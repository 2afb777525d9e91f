package signals_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/lgd-analytics/maude-signals/filterpred"
	"github.com/lgd-analytics/maude-signals/signals"
	"github.com/lgd-analytics/maude-signals/stats"
	"github.com/lgd-analytics/maude-signals/timewindow"
)

// Two Detect calls against the same snapshot, with the clock pinned,
// must produce byte-equal responses: no hidden iteration-order or
// map-ranging nondeterminism anywhere in the pipeline.
func TestDetectIsDeterministicForSameSnapshot(t *testing.T) {
	engine, cleanup := newTestEngine(t)
	defer cleanup()

	original := signals.Clock
	signals.Clock = func() time.Time { return time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC) }
	defer func() { signals.Clock = original }()

	req := signals.SignalRequest{
		Methods:    []stats.Method{stats.MethodZScore, stats.MethodRolling},
		Level:      filterpred.LevelManufacturer,
		TimeConfig: timewindow.Config{Mode: timewindow.ModeLookback, LookbackMonths: 12},
		MinEvents:  1,
	}

	first, err := engine.Detect(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Detect(context.Background(), req)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("Detect is not deterministic (-first +second):\n%s", diff)
	}
}
