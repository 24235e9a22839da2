// Package broadcast defines the typed outbound envelope and the ordered,
// abort-aware adapter the engine publishes through. Transports (websocket
// hub, test recorder) implement Sink.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
)

// Type tags the envelope payload.
type Type string

const (
	TypeAIMessage        Type = "ai_message"
	TypePlayerMessage    Type = "player_message"
	TypeSystemMessage    Type = "system_message"
	TypeChatMessage      Type = "chat_message"
	TypePlayerChoice     Type = "player_choice"
	TypeSimpleAB         Type = "simple_ab"
	TypeChallenge        Type = "challenge"
	TypeInputRequest     Type = "input_request"
	TypeFlowMessage      Type = "flow_message"
	TypeCapacityUpdate   Type = "capacity_update"
	TypePainUpdate       Type = "pain_update"
	TypeEmotionUpdate    Type = "emotion_update"
	TypeInfCycleStart    Type = "infinite_cycle_start"
	TypeInfCycleEnd      Type = "infinite_cycle_end"
	TypePumpSafetyBlock  Type = "pump_safety_block"
	TypeReminderUpdated  Type = "reminder_updated"
	TypeCharactersUpdate Type = "characters_update"
	TypeFlowToast        Type = "flow_toast"
	TypeFlowPaused       Type = "flow_paused"
	TypeExecutionsUpdate Type = "flow_executions_update"
	TypeError            Type = "error"
)

// flowCarrying marks event types that belong to an executing chain. While
// the engine is aborting, these are dropped; status events still pass.
var flowCarrying = map[Type]bool{
	TypeAIMessage:     true,
	TypePlayerMessage: true,
	TypeChallenge:     true,
	TypePlayerChoice:  true,
	TypeSimpleAB:      true,
	TypeFlowMessage:   true,
}

// Envelope is one outbound event. Payload is a json-serializable struct
// from payloads.go or a plain map.
type Envelope struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

// MarshalTrace renders the envelope as a single trace line. Used by the
// journal and golden tests.
func (e Envelope) MarshalTrace() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(b), nil
}

// Sink delivers envelopes to clients. Delivery is fire-and-forget from the
// engine's perspective but Send is awaited so envelopes of one chain keep
// their order.
type Sink interface {
	Send(ctx context.Context, env Envelope) error
}

// Adapter wraps a Sink with the engine's gating rule: while the gate reports
// aborting, flow-carrying envelopes are silently dropped.
type Adapter struct {
	sink Sink
	gate func() bool // true while aborting
}

// NewAdapter builds an adapter. gate may be nil (never aborting).
func NewAdapter(sink Sink, gate func() bool) *Adapter {
	if gate == nil {
		gate = func() bool { return false }
	}
	return &Adapter{sink: sink, gate: gate}
}

// Send delivers one envelope, applying the abort gate.
func (a *Adapter) Send(ctx context.Context, env Envelope) error {
	if flowCarrying[env.Type] && a.gate() {
		return nil
	}
	if err := a.sink.Send(ctx, env); err != nil {
		return fmt.Errorf("broadcast %s: %w", env.Type, err)
	}
	return nil
}
