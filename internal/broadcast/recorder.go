package broadcast

import (
	"context"
	"sync"
	"time"
)

// Recorder is a Sink that captures envelopes in order. Used by tests, the
// simulate command, and journal replay.
type Recorder struct {
	mu   sync.Mutex
	cond *sync.Cond
	envs []Envelope
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Send appends the envelope.
func (r *Recorder) Send(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	r.cond.Broadcast()
	return nil
}

// WaitFor blocks until at least n envelopes are recorded or timeout elapses.
// Reports whether n was reached.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer deadline.Stop()

	expire := time.Now().Add(timeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.envs) < n && time.Now().Before(expire) {
		r.cond.Wait()
	}
	return len(r.envs) >= n
}

// Envelopes returns a copy of everything recorded so far.
func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.envs))
	copy(out, r.envs)
	return out
}

// OfType returns recorded envelopes with the given type, in order.
func (r *Recorder) OfType(t Type) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Envelope
	for _, e := range r.envs {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = nil
}
