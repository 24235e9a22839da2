package testutil

import "github.com/loom-app/loom/internal/flow"

// FlowBuilder assembles flow graphs inline in tests without going through
// the JSON codec.
type FlowBuilder struct {
	id    string
	name  string
	nodes []flow.Node
	edges []flow.Edge
}

// NewFlow starts a builder.
func NewFlow(id, name string) *FlowBuilder {
	return &FlowBuilder{id: id, name: name}
}

// Node appends a node.
func (b *FlowBuilder) Node(n flow.Node) *FlowBuilder {
	b.nodes = append(b.nodes, n)
	return b
}

// Edge appends an edge. handle may be empty for the default output.
func (b *FlowBuilder) Edge(source, target, handle string) *FlowBuilder {
	b.edges = append(b.edges, flow.Edge{Source: source, Target: target, SourceHandle: handle})
	return b
}

// Build indexes the graph and wraps it at the given tier.
func (b *FlowBuilder) Build(tier flow.PriorityTier) *flow.ActiveFlow {
	return &flow.ActiveFlow{
		Flow: flow.New(b.id, b.name, b.nodes, b.edges),
		Tier: tier,
	}
}

// SpeechTrigger builds a speech trigger node matching any of the keywords.
func SpeechTrigger(id string, keywords ...string) flow.Node {
	return flow.Node{
		ID:   id,
		Type: flow.NodeTrigger,
		Trigger: &flow.TriggerConfig{
			TriggerType: flow.TriggerPlayerSpeaks,
			Keywords:    keywords,
		},
	}
}

// MessageAction builds a send_message action node.
func MessageAction(id, text string) flow.Node {
	return flow.Node{
		ID:   id,
		Type: flow.NodeAction,
		Action: &flow.ActionConfig{
			ActionType:  flow.ActionSendMessage,
			Text:        text,
			SuppressLlm: true,
		},
	}
}

// BoolPtr returns a pointer to b. Trigger configs take *bool for defaulted
// flags.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }
