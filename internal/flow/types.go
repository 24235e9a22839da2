package flow

// NodeType discriminates node variants. The set is closed: the codec rejects
// tags outside this list.
type NodeType string

const (
	NodeTrigger               NodeType = "trigger"
	NodeButtonPress           NodeType = "button_press"
	NodeAction                NodeType = "action"
	NodeCondition             NodeType = "condition"
	NodeBranch                NodeType = "branch"
	NodeDelay                 NodeType = "delay"
	NodePlayerChoice          NodeType = "player_choice"
	NodeSimpleAB              NodeType = "simple_ab"
	NodeInput                 NodeType = "input"
	NodeRandomNumber          NodeType = "random_number"
	NodeCapacityAIMessage     NodeType = "capacity_ai_message"
	NodeCapacityPlayerMessage NodeType = "capacity_player_message"
	NodePauseResume           NodeType = "pause_resume"
	NodePrizeWheel            NodeType = "prize_wheel"
	NodeDiceRoll              NodeType = "dice_roll"
	NodeCoinFlip              NodeType = "coin_flip"
	NodeRPS                   NodeType = "rps"
	NodeTimerChallenge        NodeType = "timer_challenge"
	NodeNumberGuess           NodeType = "number_guess"
	NodeSlotMachine           NodeType = "slot_machine"
	NodeCardDraw              NodeType = "card_draw"
	NodeSimonChallenge        NodeType = "simon_challenge"
	NodeReflexChallenge       NodeType = "reflex_challenge"
)

// validNodeTypes is the closed set accepted by the codec.
var validNodeTypes = map[NodeType]bool{
	NodeTrigger: true, NodeButtonPress: true, NodeAction: true,
	NodeCondition: true, NodeBranch: true, NodeDelay: true,
	NodePlayerChoice: true, NodeSimpleAB: true, NodeInput: true,
	NodeRandomNumber: true, NodeCapacityAIMessage: true,
	NodeCapacityPlayerMessage: true, NodePauseResume: true,
	NodePrizeWheel: true, NodeDiceRoll: true, NodeCoinFlip: true,
	NodeRPS: true, NodeTimerChallenge: true, NodeNumberGuess: true,
	NodeSlotMachine: true, NodeCardDraw: true, NodeSimonChallenge: true,
	NodeReflexChallenge: true,
}

// IsEntry reports whether the node type can start a chain.
func (t NodeType) IsEntry() bool {
	return t == NodeTrigger || t == NodeButtonPress
}

// IsChallenge reports whether the node type is an interactive challenge.
func (t NodeType) IsChallenge() bool {
	switch t {
	case NodePrizeWheel, NodeDiceRoll, NodeCoinFlip, NodeRPS,
		NodeTimerChallenge, NodeNumberGuess, NodeSlotMachine,
		NodeCardDraw, NodeSimonChallenge, NodeReflexChallenge:
		return true
	}
	return false
}

// ChallengeType returns the wire name of a challenge node type. Empty for
// non-challenge nodes.
func (t NodeType) ChallengeType() string {
	if t.IsChallenge() {
		return string(t)
	}
	return ""
}

// Edge handle tags drive interpreter routing. Handles not listed here are
// choice/challenge outcome ids and are matched verbatim.
const (
	HandleFalse        = "false"
	HandleImmediate    = "immediate"
	HandleCompletion   = "completion"
	HandleSourcePause  = "source-pause"
	HandleSourceResume = "source-resume"
	HandleGlobal       = "global"
)

// Node is a typed graph node. Exactly one config pointer is set, matching
// Type; the codec enforces this.
type Node struct {
	ID    string
	Type  NodeType
	Label string

	Trigger     *TriggerConfig
	Button      *ButtonConfig
	Action      *ActionConfig
	Condition   *ConditionConfig
	Branch      *BranchConfig
	Delay       *DelayConfig
	Choice      *ChoiceConfig
	SimpleAB    *SimpleABConfig
	Input       *InputConfig
	Random      *RandomNumberConfig
	CapacityMsg *CapacityMessageConfig
	Pause       *PauseResumeConfig
	Challenge   *ChallengeConfig

	// Wrapper holds the pre/post message and delay hooks shared by action
	// and challenge nodes. Nil when the author configured none.
	Wrapper *WrapperConfig
}

// FireOnlyOnce reports whether the node is consumed after its first firing.
// Defaults to true for trigger nodes and false for everything else.
func (n *Node) FireOnlyOnce() bool {
	if n.Type == NodeTrigger {
		if n.Trigger != nil && n.Trigger.FireOnlyOnce != nil {
			return *n.Trigger.FireOnlyOnce
		}
		return true
	}
	switch {
	case n.Action != nil:
		return n.Action.ExecuteOnce
	case n.Condition != nil:
		return false // conditions use OnlyOnce per sub-condition key
	}
	return false
}

// Edge connects two nodes. SourceHandle selects which output of the source
// this edge hangs off; empty means the default output.
type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// Flow is an authored directed graph. Immutable while active: the engine
// never mutates a Flow, only its per-activation state.
type Flow struct {
	ID    string
	Name  string
	Nodes []Node
	Edges []Edge

	byID map[string]*Node
}

// PriorityTier ranks where an active flow was attached. Lower wins.
type PriorityTier int

const (
	TierGlobal    PriorityTier = 0
	TierCharacter PriorityTier = 1
	TierPersona   PriorityTier = 2
)

// ActiveFlow pairs a flow with the tier it was activated under.
type ActiveFlow struct {
	Flow *Flow
	Tier PriorityTier
}
