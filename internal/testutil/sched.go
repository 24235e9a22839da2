// Package testutil holds the deterministic seams engine tests run on: a
// manually advanced scheduler and flow graph builders.
package testutil

import (
	"sync"
	"time"

	"github.com/loom-app/loom/internal/engine"
)

// ManualScheduler implements engine.Scheduler with a clock that only moves
// when the test calls Advance or AdvanceToNext. Due timer callbacks run
// synchronously on the advancing goroutine, so a test that advances and
// then waits for engine quiescence observes everything the wake caused.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	s     *ManualScheduler
	at    time.Time
	fn    func()
	fired bool
}

// NewManualScheduler creates a scheduler frozen at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now returns the frozen time.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc schedules fn to run when the clock passes d. A non-positive
// duration runs fn on its own goroutine immediately.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) engine.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now.Add(d), fn: fn}
	if d <= 0 {
		t.fired = true
		go fn()
		return t
	}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward by d and runs every due timer callback
// before returning.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.advanceLocked(s.now.Add(d))
}

// AdvanceToNext jumps the clock to the earliest pending deadline and fires
// it. Reports whether any timer was pending.
func (s *ManualScheduler) AdvanceToNext() bool {
	s.mu.Lock()
	if len(s.timers) == 0 {
		s.mu.Unlock()
		return false
	}
	next := s.timers[0].at
	for _, t := range s.timers[1:] {
		if t.at.Before(next) {
			next = t.at
		}
	}
	s.advanceLocked(next)
	return true
}

// advanceLocked sets the clock to target and fires due timers. Unlocks.
func (s *ManualScheduler) advanceLocked(target time.Time) {
	s.now = target

	var fire []*manualTimer
	var keep []*manualTimer
	for _, t := range s.timers {
		if !t.at.After(target) {
			t.fired = true
			fire = append(fire, t)
		} else {
			keep = append(keep, t)
		}
	}
	s.timers = keep
	s.mu.Unlock()

	for _, t := range fire {
		t.fn()
	}
}

// PendingTimers reports how many timers are armed.
func (s *ManualScheduler) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels the timer. Reports whether the call was prevented.
func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.fired {
		return false
	}
	for i, x := range t.s.timers {
		if x == t {
			t.s.timers = append(t.s.timers[:i], t.s.timers[i+1:]...)
			t.fired = true
			return true
		}
	}
	return false
}
