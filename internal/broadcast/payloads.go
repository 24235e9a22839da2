package broadcast

import (
	"time"

	"github.com/loom-app/loom/internal/persist"
)

// Message payloads carry the LLM-suppression flag: the engine never rewrites
// text itself, it only tags whether the chat pipeline may.

// FlowMessage is an ai_message / player_message produced by a flow node.
type FlowMessage struct {
	Content     string `json:"content"`
	Sender      string `json:"sender"` // character name or player name
	SuppressLlm bool   `json:"suppressLlm"`
	FlowID      string `json:"flowId,omitempty"`
	NodeID      string `json:"nodeId,omitempty"`

	// Challenge pre-messages list possible outcomes so the chat pipeline
	// can instruct the LLM not to spoil the result.
	IsChallengePreMessage bool     `json:"isChallengePreMessage,omitempty"`
	PossibleOutcomes      []string `json:"possibleOutcomes,omitempty"`

	// Capacity messages force the narrating perspective.
	IsCapacityMessage bool   `json:"isCapacityMessage,omitempty"`
	ForcePerspective  string `json:"forcePerspective,omitempty"` // player | character
}

// SystemMessage is broadcast verbatim.
type SystemMessage struct {
	Content string `json:"content"`
}

// ChatMessage is an entry appended to the visible chat history.
type ChatMessage struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Sender     string    `json:"sender"`
	Timestamp  time.Time `json:"timestamp"`
	Generated  bool      `json:"generated"`
	FromChoice bool      `json:"fromChoice"`
}

// ChoiceItem is one option presented in a player_choice modal.
type ChoiceItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PlayerChoice asks the UI to present a choice modal.
type PlayerChoice struct {
	NodeID      string       `json:"nodeId"`
	Description string       `json:"description,omitempty"`
	Choices     []ChoiceItem `json:"choices"`
}

// SimpleAB asks the UI to present a fixed two-option modal.
type SimpleAB struct {
	NodeID       string `json:"nodeId"`
	Description  string `json:"description,omitempty"`
	LabelA       string `json:"labelA"`
	DescriptionA string `json:"descriptionA,omitempty"`
	LabelB       string `json:"labelB"`
	DescriptionB string `json:"descriptionB,omitempty"`
}

// Challenge asks the UI to run an interactive challenge.
type Challenge struct {
	NodeID        string         `json:"nodeId"`
	ChallengeType string         `json:"challengeType"`
	Params        map[string]any `json:"params,omitempty"`
}

// InputRequest asks the UI for a typed value.
type InputRequest struct {
	NodeID       string   `json:"nodeId"`
	Prompt       string   `json:"prompt,omitempty"`
	InputType    string   `json:"inputType"`
	MinValue     *float64 `json:"minValue,omitempty"`
	MaxValue     *float64 `json:"maxValue,omitempty"`
	VariableName string   `json:"variableName"`
	Required     bool     `json:"required"`
}

// CapacityUpdate, PainUpdate, and EmotionUpdate each carry one player-state
// field change.
type CapacityUpdate struct {
	Capacity int `json:"capacity"`
}

type PainUpdate struct {
	Pain int `json:"pain"`
}

type EmotionUpdate struct {
	Emotion string `json:"emotion"`
}

// InfiniteCycle marks the start/end of an unbounded device cycle.
type InfiniteCycle struct {
	Device string `json:"device"`
	FlowID string `json:"flowId"`
	NodeID string `json:"nodeId"`
}

// PumpSafetyBlock reports a skipped inflation at full capacity.
type PumpSafetyBlock struct {
	Reason   string `json:"reason"`
	Capacity int    `json:"capacity"`
	Device   string `json:"device"`
	Source   string `json:"source"`
}

// CharactersUpdate pushes the refreshed character documents after a
// character-scoped toggle.
type CharactersUpdate struct {
	Characters []persist.Character `json:"characters"`
}

// ReminderUpdated reports a reminder or button toggle.
type ReminderUpdated struct {
	ReminderID string `json:"reminderId"`
	Action     string `json:"action"` // enabled | disabled
	IsGlobal   bool   `json:"isGlobal"`
}

// FlowToast reports flow lifecycle for UI toasts. Only emitted for flows
// whose trigger opted into notify.
type FlowToast struct {
	Event       string `json:"event"` // start | progress | complete | takeover | blocked
	Message     string `json:"message,omitempty"`
	FlowName    string `json:"flowName"`
	CurrentStep int    `json:"currentStep,omitempty"`
	TotalSteps  int    `json:"totalSteps,omitempty"`
	Priority    *int   `json:"priority,omitempty"`
}

// FlowPaused reports the pause/resume state of the whole engine.
type FlowPaused struct {
	Paused           bool   `json:"paused"`
	Reason           string `json:"reason,omitempty"`
	CurrentNodeLabel string `json:"currentNodeLabel,omitempty"`
	ResumingAt       string `json:"resumingAt,omitempty"`
}

// ExecutionStatus describes one running flow for the UI status panel.
type ExecutionStatus struct {
	FlowID      string `json:"flowId"`
	FlowName    string `json:"flowName"`
	CurrentStep int    `json:"currentStep"`
	TotalSteps  int    `json:"totalSteps"`
	Waiting     bool   `json:"waiting"`
	Priority    *int   `json:"priority,omitempty"`
}

// ExecutionsUpdate publishes the current execution set.
type ExecutionsUpdate struct {
	Executions []ExecutionStatus `json:"executions"`
}

// Error reports a non-fatal engine error to the UI.
type Error struct {
	Message string `json:"message"`
	Err     string `json:"error,omitempty"`
	Context string `json:"context,omitempty"`
}
