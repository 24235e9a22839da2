package engine

import (
	"sync"
	"time"
)

// Scheduler abstracts wall-clock time so tests can drive delays, monitors,
// and idle checks deterministically. The production implementation is
// RealScheduler; testutil provides a manual one. All engine waits go
// through AfterFunc so a manual scheduler fires them in deadline order.
type Scheduler interface {
	Now() time.Time
	// AfterFunc runs fn after d on its own goroutine.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable scheduled call.
type Timer interface {
	// Stop cancels the timer. Reports whether the call was prevented.
	Stop() bool
}

// RealScheduler uses the runtime clock.
type RealScheduler struct{}

func (RealScheduler) Now() time.Time { return time.Now() }

func (RealScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{time.AfterFunc(d, fn)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

// timerSet tracks scheduled timers per flow so DeactivateFlow and
// EmergencyStop can cancel them.
type timerSet struct {
	mu     sync.Mutex
	timers map[string][]Timer // flow id -> timers
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string][]Timer)}
}

func (ts *timerSet) add(flowID string, t Timer) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.timers[flowID] = append(ts.timers[flowID], t)
}

// cancelFlow stops and forgets all timers of one flow.
func (ts *timerSet) cancelFlow(flowID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, t := range ts.timers[flowID] {
		t.Stop()
	}
	delete(ts.timers, flowID)
}

// cancelAll stops and forgets every timer.
func (ts *timerSet) cancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, list := range ts.timers {
		for _, t := range list {
			t.Stop()
		}
	}
	ts.timers = make(map[string][]Timer)
}
