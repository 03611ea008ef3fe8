package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fundraisely/quizsync/internal/clockutil"
)

const interpolationPeriod = 100 * time.Millisecond

// TimerUpdate is the smooth countdown output consumed by round-type game
// views: whole seconds (always a ceiling, so 0.3s left displays as 1) and a
// proportional fraction of the round remaining.
type TimerUpdate struct {
	Round        int
	SecondsLeft  int
	FractionLeft float64
}

// RoundTimer converts coarse authoritative "seconds remaining" ticks into a
// smooth, monotonically decreasing local countdown. The first (largest)
// observed remaining value anchors 100% of progress for the current round.
type RoundTimer struct {
	clock clockwork.Clock
	emit  func(TimerUpdate)

	mu        sync.Mutex
	round     int
	endsAt    time.Time
	totalMs   int64
	lastShown int
	haveShown bool
	cancel    clockutil.CancelFunc
}

// NewRoundTimer creates a timer that publishes interpolated updates through
// emit. Updates may be delivered from an internal goroutine.
func NewRoundTimer(clock clockwork.Clock, emit func(TimerUpdate)) *RoundTimer {
	return &RoundTimer{clock: clock, emit: emit}
}

// Tick feeds one authoritative remaining-seconds value for the current round.
func (t *RoundTimer) Tick(remainingSeconds int) {
	if remainingSeconds < 0 {
		remainingSeconds = 0
	}
	t.mu.Lock()
	now := t.clock.Now()
	t.endsAt = now.Add(time.Duration(remainingSeconds) * time.Second)
	if ms := int64(remainingSeconds) * 1000; ms > t.totalMs {
		t.totalMs = ms
	}
	t.ensureRunningLocked()
	t.recomputeLocked(now)
	t.mu.Unlock()
}

// Bridge seeds the countdown from a legacy {startTime, durationSeconds} pair
// when no authoritative tick has arrived yet, so a view is never left without
// a timer. A later tick supersedes the bridged estimate.
func (t *RoundTimer) Bridge(startTime time.Time, durationSeconds int) {
	if durationSeconds <= 0 {
		return
	}
	t.mu.Lock()
	if t.endsAt.IsZero() {
		t.endsAt = startTime.Add(time.Duration(durationSeconds) * time.Second)
		if ms := int64(durationSeconds) * 1000; ms > t.totalMs {
			t.totalMs = ms
		}
		t.ensureRunningLocked()
		t.recomputeLocked(t.clock.Now())
	}
	t.mu.Unlock()
}

// Reset clears all countdown state before the first tick of a new round is
// processed. Nothing from the prior round may leak through.
func (t *RoundTimer) Reset(round int) {
	t.mu.Lock()
	t.stopLocked()
	t.round = round
	t.endsAt = time.Time{}
	t.totalMs = 0
	t.lastShown = 0
	t.haveShown = false
	t.mu.Unlock()
}

// Stop cancels the interpolation task. Called on session teardown.
func (t *RoundTimer) Stop() {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
}

// Snapshot returns the most recent computed update without advancing time.
func (t *RoundTimer) Snapshot() TimerUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.computeLocked(t.clock.Now())
}

func (t *RoundTimer) stopLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *RoundTimer) ensureRunningLocked() {
	if t.cancel != nil {
		return
	}
	t.cancel = clockutil.StartPeriodic(t.clock, interpolationPeriod, func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.endsAt.IsZero() {
			// Reset raced with a scheduled recompute; the new round owns a
			// fresh task.
			t.cancel = nil
			return false
		}
		msLeft := t.recomputeLocked(t.clock.Now())
		if msLeft == 0 {
			t.cancel = nil
			return false
		}
		return true
	})
}

// recomputeLocked emits the current interpolated value and returns msLeft.
func (t *RoundTimer) recomputeLocked(now time.Time) int64 {
	upd := t.computeLocked(now)
	t.lastShown = upd.SecondsLeft
	t.haveShown = true
	t.emit(upd)
	if upd.SecondsLeft == 0 {
		return 0
	}
	return t.endsAt.Sub(now).Milliseconds()
}

func (t *RoundTimer) computeLocked(now time.Time) TimerUpdate {
	msLeft := t.endsAt.Sub(now).Milliseconds()
	if msLeft < 0 || t.endsAt.IsZero() {
		msLeft = 0
	}
	secondsLeft := int((msLeft + 999) / 1000)
	// A coarse correction may imply slightly more time than currently shown;
	// the displayed whole seconds never jump backward within a round.
	if t.haveShown && secondsLeft > t.lastShown {
		secondsLeft = t.lastShown
	}
	var fraction float64
	if t.totalMs > 0 {
		fraction = float64(msLeft) / float64(t.totalMs)
	}
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	return TimerUpdate{Round: t.round, SecondsLeft: secondsLeft, FractionLeft: fraction}
}
