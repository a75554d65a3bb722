package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musterops/muster/telemetry"
)

func TestLoopRunsImmediatelyAndOnTicks(t *testing.T) {
	var cycles atomic.Int64
	d := New(Config{Interval: 10 * time.Millisecond}, func(_ context.Context) error {
		cycles.Add(1)
		return nil
	}, telemetry.NewLogger("test"))

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := d.loop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// One immediate cycle plus at least a few ticks.
	assert.GreaterOrEqual(t, cycles.Load(), int64(3))
	assert.Equal(t, cycles.Load(), d.CycleCount())
}

func TestLoopSurvivesCycleFailure(t *testing.T) {
	var cycles atomic.Int64
	d := New(Config{Interval: 10 * time.Millisecond}, func(_ context.Context) error {
		cycles.Add(1)
		return errors.New("collection failed")
	}, telemetry.NewLogger("test"))

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	_ = d.loop(ctx)
	assert.GreaterOrEqual(t, cycles.Load(), int64(2))
}

func TestHealth(t *testing.T) {
	d := New(Config{Interval: time.Minute}, func(_ context.Context) error { return nil }, telemetry.NewLogger("test"))
	d.runCycle(context.Background())

	health := d.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, int64(1), health.Cycles)
}
