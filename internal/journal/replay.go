package journal

import (
	"fmt"

	"github.com/loom-app/loom/internal/engine"
)

// Replay feeds every journaled event back through the engine in seq order.
// settle runs after each event; callers use it to drain the engine to
// quiescence and fast-forward pending timers. A nil settle waits for
// quiescence only. Returns the number of events fed.
//
// The engine should be constructed with deterministic seams (fixed rand
// seed, sequential token generator, manual scheduler) for the replayed
// trace to match the journaled one.
func (s *Store) Replay(e *engine.Engine, settle func()) (int, error) {
	if settle == nil {
		settle = e.WaitIdle
	}

	events, err := s.Events()
	if err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}

	for i, ev := range events {
		if !e.HandleEvent(engine.Event{Type: engine.EventType(ev.Type), Data: ev.Data}) {
			return i, fmt.Errorf("replay: engine stopped at seq %d", ev.Seq)
		}
		settle()
	}
	return len(events), nil
}
