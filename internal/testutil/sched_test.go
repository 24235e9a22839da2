package testutil

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualScheduler_NowIsFrozen(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewManualScheduler(start)

	assert.Equal(t, start, s.Now())
	s.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), s.Now())
}

func TestManualScheduler_AfterFuncFiresOnAdvance(t *testing.T) {
	s := NewManualScheduler(time.Unix(0, 0))

	var fired atomic.Int32
	s.AfterFunc(10*time.Second, func() { fired.Add(1) })

	s.Advance(9 * time.Second)
	assert.Equal(t, int32(0), fired.Load())
	assert.Equal(t, 1, s.PendingTimers())

	s.Advance(time.Second)
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 0, s.PendingTimers())
}

func TestManualScheduler_AdvanceFiresAllDueTimers(t *testing.T) {
	s := NewManualScheduler(time.Unix(0, 0))

	var fired atomic.Int32
	s.AfterFunc(2*time.Second, func() { fired.Add(1) })
	s.AfterFunc(4*time.Second, func() { fired.Add(1) })
	s.AfterFunc(time.Hour, func() { fired.Add(1) })

	s.Advance(5 * time.Second)
	assert.Equal(t, int32(2), fired.Load())
	assert.Equal(t, 1, s.PendingTimers())
}

func TestManualScheduler_AdvanceToNext(t *testing.T) {
	s := NewManualScheduler(time.Unix(0, 0))

	var order []string
	s.AfterFunc(30*time.Second, func() { order = append(order, "late") })
	s.AfterFunc(5*time.Second, func() { order = append(order, "early") })

	assert.True(t, s.AdvanceToNext())
	assert.Equal(t, []string{"early"}, order)
	assert.Equal(t, time.Unix(5, 0), s.Now())

	assert.True(t, s.AdvanceToNext())
	assert.Equal(t, []string{"early", "late"}, order)
	assert.Equal(t, time.Unix(30, 0), s.Now())

	assert.False(t, s.AdvanceToNext())
}

func TestManualScheduler_TimerStopPreventsFire(t *testing.T) {
	s := NewManualScheduler(time.Unix(0, 0))

	var fired atomic.Int32
	timer := s.AfterFunc(10*time.Second, func() { fired.Add(1) })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	s.Advance(time.Minute)
	assert.Equal(t, int32(0), fired.Load())
}

func TestManualScheduler_ImmediateAfterFunc(t *testing.T) {
	s := NewManualScheduler(time.Unix(0, 0))

	done := make(chan struct{})
	s.AfterFunc(0, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("immediate timer did not fire")
	}
}
