package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/llm"
)

func TestMailboxStaleSignalIsNotClosure(t *testing.T) {
	m := newMailbox()
	require.True(t, m.enqueue(message{name: "x", fn: func() {}}))

	_, ok := m.tryDequeue()
	require.True(t, ok)
	assert.Equal(t, 0, m.len())

	// The coalesced token from the enqueue survived the fast-path dequeue.
	select {
	case <-m.wait():
	default:
		t.Fatal("expected a buffered signal token")
	}
	assert.False(t, m.isClosed())

	m.close()
	assert.True(t, m.isClosed())
	assert.False(t, m.enqueue(message{name: "late", fn: func() {}}))
}

func TestRunSurvivesFastPathDrain(t *testing.T) {
	e := New(device.NewCatalog(nil), device.NewFakeDriver(), broadcast.NewRecorder(), llm.NewScripted())

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	// The nested post leaves a stale signal token: the outer message wakes
	// the select, the inner one is taken by the fast path.
	ran := 0
	e.post("outer", func() {
		ran++
		e.post("inner", func() { ran++ })
	})
	e.WaitIdle()

	// The loop must still be alive after the queue drained.
	e.post("late", func() { ran++ })
	e.WaitIdle()
	assert.Equal(t, 3, ran)

	e.Stop()
	require.NoError(t, <-done)
}
