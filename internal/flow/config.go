package flow

// TriggerType names the external event a trigger node listens for.
type TriggerType string

const (
	TriggerDeviceOn          TriggerType = "device_on"
	TriggerDeviceOff         TriggerType = "device_off"
	TriggerPlayerSpeaks      TriggerType = "player_speaks"
	TriggerAISpeaks          TriggerType = "ai_speaks"
	TriggerRandom            TriggerType = "random"
	TriggerIdle              TriggerType = "idle"
	TriggerNewSession        TriggerType = "new_session"
	TriggerPlayerStateChange TriggerType = "player_state_change"
	TriggerFirstMessage      TriggerType = "first_message"
)

// Operator names a comparison predicate. The state-change trigger uses the
// meet/meet_or_exceed aliases; conditions and monitors use the symbolic set.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpRange        Operator = "range"
	OpContains     Operator = "contains"

	OpMeet         Operator = "meet"
	OpMeetOrExceed Operator = "meet_or_exceed"
)

// TriggerConfig configures a trigger node.
type TriggerConfig struct {
	TriggerType TriggerType `json:"triggerType"`

	// Speech triggers.
	Keywords []string `json:"keywords,omitempty"`
	Cooldown *int     `json:"cooldown,omitempty"` // messages between fires; default 5

	// Random trigger: fire probability in [0,100).
	Probability float64 `json:"probability,omitempty"`

	// Idle trigger: required idle time in seconds.
	IdleSeconds int `json:"idleSeconds,omitempty"`

	// State-change trigger.
	StateType string   `json:"stateType,omitempty"` // capacity | pain | emotion
	Operator  Operator `json:"operator,omitempty"`
	Value     float64  `json:"value,omitempty"`
	TextValue string   `json:"textValue,omitempty"` // emotion comparisons
	Min       float64  `json:"min,omitempty"`
	Max       float64  `json:"max,omitempty"`

	// Device filter: alias, name, ip, or ip:childId. Empty matches any.
	DeviceFilter string `json:"deviceFilter,omitempty"`

	FireOnlyOnce *bool `json:"fireOnlyOnce,omitempty"` // default true
	Unblockable  bool  `json:"unblockable,omitempty"`
	HasPriority  bool  `json:"hasPriority,omitempty"`
	Priority     int   `json:"priority,omitempty"` // lower wins
	Notify       bool  `json:"notify,omitempty"`   // emit flow_toast events
}

// ButtonConfig configures a button_press entry node.
type ButtonConfig struct {
	Label    string `json:"label"`
	ButtonID string `json:"buttonId,omitempty"`
	Notify   bool   `json:"notify,omitempty"`
}

// ActionType names the side effect an action node performs.
type ActionType string

const (
	ActionSendMessage       ActionType = "send_message"
	ActionSendPlayerMessage ActionType = "send_player_message"
	ActionSystemMessage     ActionType = "system_message"
	ActionDeviceOn          ActionType = "device_on"
	ActionDeviceOff         ActionType = "device_off"
	ActionStartCycle        ActionType = "start_cycle"
	ActionStopCycle         ActionType = "stop_cycle"
	ActionPulsePump         ActionType = "pulse_pump"
	ActionDeclareVariable   ActionType = "declare_variable"
	ActionSetVariable       ActionType = "set_variable"
	ActionToggleReminder    ActionType = "toggle_reminder"
	ActionToggleButton      ActionType = "toggle_button"
)

// UntilType names the predicate family of an "until" monitor.
type UntilType string

const (
	UntilCapacity UntilType = "capacity"
	UntilPain     UntilType = "pain"
	UntilEmotion  UntilType = "emotion"
	UntilTimer    UntilType = "timer"
)

// UntilConfig is the auto-off predicate attached to device_on / start_cycle.
type UntilConfig struct {
	Type      UntilType `json:"type"`
	Operator  Operator  `json:"operator,omitempty"`
	Value     float64   `json:"value,omitempty"`
	TextValue string    `json:"textValue,omitempty"`
	Seconds   int       `json:"seconds,omitempty"` // timer variant
}

// ActionConfig configures an action node. Fields are sparse: only those
// relevant to ActionType are populated by authors.
type ActionConfig struct {
	ActionType ActionType `json:"actionType"`

	// Messages.
	Text        string `json:"text,omitempty"`
	SuppressLlm bool   `json:"suppressLlm,omitempty"`

	// Device actions.
	Device             string       `json:"device,omitempty"` // resolver reference
	Until              *UntilConfig `json:"until,omitempty"`
	AllowOverInflation bool         `json:"allowOverInflation,omitempty"`
	Duration           float64      `json:"duration,omitempty"` // seconds per cycle
	Interval           float64      `json:"interval,omitempty"` // seconds between cycles
	Cycles             int          `json:"cycles,omitempty"`   // 0 = infinite
	Pulses             string       `json:"pulses,omitempty"`   // count or [Flow:var]

	// Variables.
	VariableName  string `json:"variableName,omitempty"`
	VariableValue string `json:"variableValue,omitempty"`
	VariableScope string `json:"variableScope,omitempty"` // custom | capacity | pain | emotion

	// Reminder / button toggles.
	ReminderID string `json:"reminderId,omitempty"`
	ButtonID   string `json:"buttonId,omitempty"`
	IsGlobal   bool   `json:"isGlobal,omitempty"`
	Enable     bool   `json:"enable,omitempty"`

	ExecuteOnce bool `json:"executeOnce,omitempty"`
}

// SubCondition is one comparison inside a condition node.
type SubCondition struct {
	Type      string   `json:"type"` // capacity | pain | emotion | variable
	Variable  string   `json:"variable,omitempty"`
	Operator  Operator `json:"operator"`
	Value     float64  `json:"value,omitempty"`
	TextValue string   `json:"textValue,omitempty"`
	Min       float64  `json:"min,omitempty"`
	Max       float64  `json:"max,omitempty"`
	OnlyOnce  bool     `json:"onlyOnce,omitempty"`
}

// ConditionConfig configures a condition node. The interpreter follows the
// edge tagged "true-N" for the first matching sub-condition N, else "false".
type ConditionConfig struct {
	Conditions []SubCondition `json:"conditions"`
}

// BranchConfig configures a branch node.
type BranchConfig struct {
	Mode    string    `json:"mode"` // sequential | random
	Count   int       `json:"count,omitempty"`
	Weights []float64 `json:"weights,omitempty"`
}

// DelayConfig configures a delay node. Duration is a number literal or a
// [Flow:var] reference resolved at execution time.
type DelayConfig struct {
	Duration string `json:"duration"`
	Unit     string `json:"unit,omitempty"` // seconds (default) | minutes
}

// ChoiceOption is one selectable option of a player_choice node.
type ChoiceOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`

	// PlayerResponse, when set, is broadcast as the player's chat message
	// with [Choice] substituted by the chosen label.
	PlayerResponse            string `json:"playerResponse,omitempty"`
	PlayerResponseSuppressLlm bool   `json:"playerResponseSuppressLlm,omitempty"`

	// EnhanceResponse asks the LLM to rewrite PlayerResponse in the
	// persona's voice; GenerateResponse asks it to write one from scratch.
	EnhanceResponse  bool `json:"enhanceResponse,omitempty"`
	GenerateResponse bool `json:"generateResponse,omitempty"`
}

// ChoiceConfig configures a player_choice node.
type ChoiceConfig struct {
	Description      string         `json:"description,omitempty"`
	Choices          []ChoiceOption `json:"choices"`
	IntroMessage     string         `json:"introMessage,omitempty"` // [Choices] expands to numbered list
	IntroSuppressLlm bool           `json:"introSuppressLlm,omitempty"`
	AIPrompt         string         `json:"aiPrompt,omitempty"` // LLM-rewritten persona prompt
}

// SimpleABConfig configures a simple_ab node: two fixed options a/b.
type SimpleABConfig struct {
	Description  string `json:"description,omitempty"`
	LabelA       string `json:"labelA"`
	DescriptionA string `json:"descriptionA,omitempty"`
	LabelB       string `json:"labelB"`
	DescriptionB string `json:"descriptionB,omitempty"`
}

// InputConfig configures an input node.
type InputConfig struct {
	Prompt       string   `json:"prompt,omitempty"`
	InputType    string   `json:"inputType"` // number | text
	MinValue     *float64 `json:"minValue,omitempty"`
	MaxValue     *float64 `json:"maxValue,omitempty"`
	VariableName string   `json:"variableName"`
	Required     bool     `json:"required,omitempty"`
}

// RandomNumberConfig configures a random_number node.
type RandomNumberConfig struct {
	Min          int    `json:"min"`
	Max          int    `json:"max"`
	VariableName string `json:"variableName"`
}

// RangeMessage maps a capacity range id ("0-10", "11-20", ... ">100") to a
// message.
type RangeMessage struct {
	RangeID string `json:"rangeId"`
	Text    string `json:"text"`
}

// CapacityMessageConfig configures capacity_ai_message / capacity_player_message.
type CapacityMessageConfig struct {
	Messages    []RangeMessage `json:"messages"`
	SuppressLlm bool           `json:"suppressLlm,omitempty"`
}

// PauseResumeConfig configures a pause_resume node.
type PauseResumeConfig struct {
	ResumeAfterValue int    `json:"resumeAfterValue"`
	ResumeAfterType  string `json:"resumeAfterType"` // "messages"
}

// ChallengeConfig configures any of the challenge node types. Params is
// open-ended per challenge type (segments, sides, reels, ...) and is passed
// through to the challenge broadcast untouched; the engine only needs the
// outcome ids for routing and LLM spoiler suppression.
type ChallengeConfig struct {
	Params   map[string]any `json:"params,omitempty"`
	Outcomes []string       `json:"outcomes,omitempty"`

	WinMessage          string `json:"winMessage,omitempty"`
	LoseMessage         string `json:"loseMessage,omitempty"`
	ResultMessage       string `json:"resultMessage,omitempty"`
	MessagesSuppressLlm bool   `json:"messagesSuppressLlm,omitempty"`
}

// WrapperConfig holds the pre/post hooks shared by action and challenge
// nodes. A message target of "player" broadcasts as the player; anything
// else broadcasts as the character.
type WrapperConfig struct {
	PreMessage            string  `json:"preMessage,omitempty"`
	PreMessageTarget      string  `json:"preMessageTarget,omitempty"`
	PreMessageSuppressLlm bool    `json:"preMessageSuppressLlm,omitempty"`
	PreDelaySeconds       float64 `json:"preDelaySeconds,omitempty"`

	PostMessage            string  `json:"postMessage,omitempty"`
	PostMessageTarget      string  `json:"postMessageTarget,omitempty"`
	PostMessageSuppressLlm bool    `json:"postMessageSuppressLlm,omitempty"`
	PostDelaySeconds       float64 `json:"postDelaySeconds,omitempty"`
}
