package journal

import (
	"encoding/json"
	"fmt"

	"github.com/loom-app/loom/internal/engine"
)

// EventRecord is one journaled inbound event.
type EventRecord struct {
	Seq  int64
	Type string
	Data engine.EventData
}

// ExecutionRecord is one journaled chain transition.
type ExecutionRecord struct {
	Seq         int64
	ExecutionID string
	FlowID      string
	NodeID      string
	Status      string
}

// BroadcastRecord is one journaled outbound envelope. Payload stays raw
// JSON; the trace command prints it verbatim.
type BroadcastRecord struct {
	Seq     int64
	Type    string
	Payload json.RawMessage
}

// All reads order by seq ASC so a trace reads back in processing order.

// Events returns every journaled event.
func (s *Store) Events() ([]EventRecord, error) {
	rows, err := s.db.Query(`SELECT seq, event_type, data FROM events ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		var raw string
		if err := rows.Scan(&r.Seq, &r.Type, &raw); err != nil {
			return nil, fmt.Errorf("read events: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &r.Data); err != nil {
			return nil, fmt.Errorf("read events: decode seq %d: %w", r.Seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Executions returns the chain transitions, optionally filtered by flow id.
func (s *Store) Executions(flowID string) ([]ExecutionRecord, error) {
	query := `SELECT seq, execution_id, flow_id, node_id, status FROM executions ORDER BY seq ASC`
	args := []any{}
	if flowID != "" {
		query = `SELECT seq, execution_id, flow_id, node_id, status FROM executions WHERE flow_id = ? ORDER BY seq ASC`
		args = append(args, flowID)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("read executions: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		if err := rows.Scan(&r.Seq, &r.ExecutionID, &r.FlowID, &r.NodeID, &r.Status); err != nil {
			return nil, fmt.Errorf("read executions: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Broadcasts returns every journaled envelope, optionally filtered by type.
func (s *Store) Broadcasts(envType string) ([]BroadcastRecord, error) {
	query := `SELECT seq, env_type, payload FROM broadcasts ORDER BY seq ASC`
	args := []any{}
	if envType != "" {
		query = `SELECT seq, env_type, payload FROM broadcasts WHERE env_type = ? ORDER BY seq ASC`
		args = append(args, envType)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("read broadcasts: %w", err)
	}
	defer rows.Close()

	var out []BroadcastRecord
	for rows.Next() {
		var r BroadcastRecord
		var raw string
		if err := rows.Scan(&r.Seq, &r.Type, &raw); err != nil {
			return nil, fmt.Errorf("read broadcasts: %w", err)
		}
		r.Payload = json.RawMessage(raw)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MaxSeq returns the highest seq across all tables, for resuming the
// logical clock on replay.
func (s *Store) MaxSeq() (int64, error) {
	var max int64
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM events
			UNION ALL SELECT seq FROM executions
			UNION ALL SELECT seq FROM broadcasts
		)
	`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return max, nil
}
