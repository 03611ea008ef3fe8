package clockutil

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartPeriodicRunsOnEachTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	cancel := StartPeriodic(clock, time.Second, func() bool {
		calls.Add(1)
		return true
	})
	defer cancel()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestStartPeriodicStopsWhenFnReturnsFalse(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	cancel := StartPeriodic(clock, time.Second, func() bool {
		return calls.Add(1) < 2
	})
	defer cancel()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	// The task stopped itself; later ticks never reach fn.
	clock.Advance(5 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCancelIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cancel := StartPeriodic(clock, time.Second, func() bool { return true })
	cancel()
	cancel()
}
