// Package clockutil provides a small cancellable periodic-task helper shared
// by the round timer interpolator and the server's round ticker. Tasks are
// always cancelled on scope exit so timers never leak across rounds or
// sessions.
package clockutil

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// CancelFunc stops a periodic task. Safe to call more than once.
type CancelFunc func()

// StartPeriodic runs fn every period until fn returns false or the task is
// cancelled. The first invocation happens after one full period.
func StartPeriodic(clock clockwork.Clock, period time.Duration, fn func() bool) CancelFunc {
	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }

	go func() {
		ticker := clock.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				if !fn() {
					cancel()
					return
				}
			}
		}
	}()

	return cancel
}
