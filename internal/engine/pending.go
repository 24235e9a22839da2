package engine

import (
	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/flow"
)

// Pending operations pause a chain until an external condition fires. Each
// kind lives in its own map keyed by device key or node id; the resume
// paths in resume.go consume them.

// pendingDevice tracks a device_on or start_cycle awaiting completion.
type pendingDevice struct {
	FlowID   string
	NodeID   string
	Infinite bool
	Device   *device.Device
}

// pendingChoice tracks a player_choice or simple_ab awaiting a response.
type pendingChoice struct {
	FlowID     string
	NodeID     string
	Choices    []flow.ChoiceOption
	IsSimpleAB bool
}

// pendingChallenge tracks a challenge awaiting its UI result.
type pendingChallenge struct {
	FlowID        string
	NodeID        string
	ChallengeType string
	Config        *flow.ChallengeConfig
}

// pendingInput tracks an input node awaiting a typed value.
type pendingInput struct {
	FlowID       string
	NodeID       string
	VariableName string
	InputType    string
}

// pendingPause tracks a pause_resume counting down messages.
type pendingPause struct {
	FlowID            string
	NodeID            string
	MessagesRemaining int
}

// MonitorKind records which completion path an "until" monitor fires:
// a device_on completion or a cycle completion. The kind is fixed at
// registration by the action that created the monitor, and the mutation
// checker routes strictly on it.
type MonitorKind string

const (
	MonitorDeviceOn MonitorKind = "device_on"
	MonitorCycle    MonitorKind = "cycle"
)

// deviceMonitor is an "until" predicate evaluated on session-state changes
// to decide when to auto-turn-off a device. At most one per device.
type deviceMonitor struct {
	Until  flow.UntilConfig
	FlowID string
	Kind   MonitorKind
	Device *device.Device
}

// met evaluates the monitor predicate against the session.
func (m *deviceMonitor) met(s *Session) bool {
	switch m.Until.Type {
	case flow.UntilCapacity:
		return compareInt(m.Until.Operator, s.Capacity, int(m.Until.Value), 0, 0)
	case flow.UntilPain:
		return compareInt(m.Until.Operator, s.Pain, int(m.Until.Value), 0, 0)
	case flow.UntilEmotion:
		return compareText(m.Until.Operator, s.Emotion, m.Until.TextValue)
	default:
		// Timer monitors fire from their scheduled timer, never from
		// state changes.
		return false
	}
}

// pendingCount returns how many pending ops reference the flow. Used for
// the active-execution closure rule: an execution entry is removed only
// when depth is zero and this count is zero.
func (e *Engine) pendingCountLocked(flowID string) int {
	n := 0
	for _, p := range e.pendingCycles {
		if p.FlowID == flowID {
			n++
		}
	}
	for _, p := range e.pendingDeviceOn {
		if p.FlowID == flowID {
			n++
		}
	}
	for _, p := range e.pendingChoices {
		if p.FlowID == flowID {
			n++
		}
	}
	for _, p := range e.pendingChallenges {
		if p.FlowID == flowID {
			n++
		}
	}
	for _, p := range e.pendingInputs {
		if p.FlowID == flowID {
			n++
		}
	}
	for _, p := range e.pendingPauses {
		if p.FlowID == flowID {
			n++
		}
	}
	return n
}
