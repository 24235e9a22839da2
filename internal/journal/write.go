package journal

import (
	"encoding/json"
	"fmt"

	"github.com/loom-app/loom/internal/engine"
)

// Writes are idempotent on seq: the logical clock never hands out the same
// value twice within a run, and replay re-inserting an existing row is a
// no-op.

// RecordEvent appends one inbound event.
func (s *Store) RecordEvent(seq int64, eventType string, data engine.EventData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO events (seq, event_type, data)
		VALUES (?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, seq, eventType, string(raw))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// RecordExecution appends one chain lifecycle transition.
func (s *Store) RecordExecution(seq int64, execID, flowID, nodeID, status string) error {
	_, err := s.db.Exec(`
		INSERT INTO executions (seq, execution_id, flow_id, node_id, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, seq, execID, flowID, nodeID, status)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// RecordBroadcast appends one outbound envelope.
func (s *Store) RecordBroadcast(seq int64, envType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("record broadcast: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO broadcasts (seq, env_type, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, seq, envType, string(raw))
	if err != nil {
		return fmt.Errorf("record broadcast: %w", err)
	}
	return nil
}
