package engine

import "sync"

// message is one unit of serialized engine work: an inbound event, a
// pending-op resumption, or an internal control step. fn runs in the Run
// loop goroutine; all engine-state decisions that need event ordering
// happen there.
type message struct {
	name string
	fn   func()
}

// mailbox is a thread-safe FIFO queue of engine messages.
//
// The queue is unbounded so cascading resumptions can enqueue without
// blocking a chain goroutine. Thread-safety covers external producers
// (transport handlers, device callbacks, timers) while the single Run loop
// consumes.
//
// A buffered signal channel enables context-aware waiting in the Run loop.
type mailbox struct {
	mu     sync.Mutex
	msgs   []message
	closed bool
	signal chan struct{} // buffered size 1, coalesces signals
}

func newMailbox() *mailbox {
	return &mailbox{
		msgs:   make([]message, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// enqueue adds a message to the back of the queue.
// Returns false if the mailbox is closed.
func (m *mailbox) enqueue(msg message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	m.msgs = append(m.msgs, msg)

	select {
	case m.signal <- struct{}{}:
	default:
	}

	return true
}

// tryDequeue attempts to dequeue without blocking.
func (m *mailbox) tryDequeue() (message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.msgs) == 0 {
		return message{}, false
	}

	msg := m.msgs[0]

	// Nil out the slot so the closure (and everything it captures) is
	// collectable before the backing array is reallocated.
	m.msgs[0] = message{}

	if len(m.msgs) == 1 {
		m.msgs = m.msgs[:0]
	} else {
		m.msgs = m.msgs[1:]
	}

	return msg, true
}

// wait returns the signal channel for select-based waiting. The channel
// closes when the mailbox closes, waking all waiters.
func (m *mailbox) wait() <-chan struct{} {
	return m.signal
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.signal)
}
