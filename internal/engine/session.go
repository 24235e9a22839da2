package engine

// Session is the process-wide conversational state. Created once at engine
// construction and mutated only under the engine lock; never recreated.
type Session struct {
	Capacity int // 0..100
	Pain     int // 0..10
	Emotion  string

	PlayerName        string
	CharacterName     string
	ActiveCharacterID string

	// FlowVariables is the shared flow-variable namespace. Deliberately
	// process-global: multiple flows share it, and authors wanting
	// isolation prefix their names.
	FlowVariables map[string]string

	// DeviceStates tracks what flows did to each device, keyed by device
	// key. Used for already-on/already-off/already-cycling guards.
	DeviceStates map[string]DeviceState

	// Challenge-scoped variables from the most recent challenge result.
	ChallengeVars       map[string]string
	LastChallengeResult string
}

// DeviceState is the engine's view of one device.
type DeviceState struct {
	On      bool
	Cycling bool
}

// playerState snapshots the numeric/string player fields for edge detection
// in state-change triggers.
type playerState struct {
	capacity int
	pain     int
	emotion  string
}

// painLabels maps the integer pain scale to its author-facing labels.
// The list is closed: exactly these eleven, index = pain value.
var painLabels = [11]string{
	"None", "Minimal", "Mild", "Uncomfortable", "Moderate", "Distracting",
	"Distressing", "Intense", "Severe", "Agonizing", "Excruciating",
}

// PainLabel returns the label for a pain value, clamping out-of-range input.
func PainLabel(pain int) string {
	if pain < 0 {
		pain = 0
	}
	if pain > 10 {
		pain = 10
	}
	return painLabels[pain]
}

// clampCapacity bounds capacity to [0,100].
func clampCapacity(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// clampPain bounds pain to [0,10].
func clampPain(v int) int {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func newSession() *Session {
	return &Session{
		Emotion:       "neutral",
		PlayerName:    "Player",
		CharacterName: "Character",
		FlowVariables: make(map[string]string),
		DeviceStates:  make(map[string]DeviceState),
		ChallengeVars: make(map[string]string),
	}
}

func (s *Session) snapshot() playerState {
	return playerState{capacity: s.Capacity, pain: s.Pain, emotion: s.Emotion}
}
