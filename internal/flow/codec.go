package flow

import (
	"encoding/json"
	"fmt"
)

// nodeDoc is the wire shape of a node in a flow document.
type nodeDoc struct {
	ID      string          `json:"id"`
	Type    NodeType        `json:"type"`
	Label   string          `json:"label,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`
	Wrapper json.RawMessage `json:"wrapper,omitempty"`
}

// flowDoc is the wire shape of a flow document.
type flowDoc struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Nodes []nodeDoc `json:"nodes"`
	Edges []Edge    `json:"edges"`
}

// Decode parses a flow document. Unknown node types, duplicate node ids, and
// edges referencing missing nodes are rejected; the engine never sees a
// structurally broken graph.
func Decode(data []byte) (*Flow, error) {
	var doc flowDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse flow document: %w", err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("flow document missing id")
	}

	f := &Flow{
		ID:    doc.ID,
		Name:  doc.Name,
		Nodes: make([]Node, 0, len(doc.Nodes)),
		Edges: doc.Edges,
	}

	seen := make(map[string]bool, len(doc.Nodes))
	for _, nd := range doc.Nodes {
		if nd.ID == "" {
			return nil, fmt.Errorf("flow %s: node missing id", doc.ID)
		}
		if seen[nd.ID] {
			return nil, fmt.Errorf("flow %s: duplicate node id %q", doc.ID, nd.ID)
		}
		seen[nd.ID] = true

		n, err := decodeNode(nd)
		if err != nil {
			return nil, fmt.Errorf("flow %s: node %s: %w", doc.ID, nd.ID, err)
		}
		f.Nodes = append(f.Nodes, n)
	}

	for _, e := range f.Edges {
		if !seen[e.Source] {
			return nil, fmt.Errorf("flow %s: edge references missing source %q", doc.ID, e.Source)
		}
		if !seen[e.Target] {
			return nil, fmt.Errorf("flow %s: edge references missing target %q", doc.ID, e.Target)
		}
	}

	f.index()
	return f, nil
}

// decodeNode selects the config variant for the node's type tag.
func decodeNode(nd nodeDoc) (Node, error) {
	if !validNodeTypes[nd.Type] {
		return Node{}, fmt.Errorf("unknown node type %q", nd.Type)
	}

	n := Node{ID: nd.ID, Type: nd.Type, Label: nd.Label}

	cfg := nd.Config
	if cfg == nil {
		cfg = []byte("{}")
	}

	var err error
	switch nd.Type {
	case NodeTrigger:
		n.Trigger = &TriggerConfig{}
		err = json.Unmarshal(cfg, n.Trigger)
	case NodeButtonPress:
		n.Button = &ButtonConfig{}
		err = json.Unmarshal(cfg, n.Button)
	case NodeAction:
		n.Action = &ActionConfig{}
		err = json.Unmarshal(cfg, n.Action)
	case NodeCondition:
		n.Condition = &ConditionConfig{}
		err = json.Unmarshal(cfg, n.Condition)
	case NodeBranch:
		n.Branch = &BranchConfig{}
		err = json.Unmarshal(cfg, n.Branch)
	case NodeDelay:
		n.Delay = &DelayConfig{}
		err = json.Unmarshal(cfg, n.Delay)
	case NodePlayerChoice:
		n.Choice = &ChoiceConfig{}
		err = json.Unmarshal(cfg, n.Choice)
	case NodeSimpleAB:
		n.SimpleAB = &SimpleABConfig{}
		err = json.Unmarshal(cfg, n.SimpleAB)
	case NodeInput:
		n.Input = &InputConfig{}
		err = json.Unmarshal(cfg, n.Input)
	case NodeRandomNumber:
		n.Random = &RandomNumberConfig{}
		err = json.Unmarshal(cfg, n.Random)
	case NodeCapacityAIMessage, NodeCapacityPlayerMessage:
		n.CapacityMsg = &CapacityMessageConfig{}
		err = json.Unmarshal(cfg, n.CapacityMsg)
	case NodePauseResume:
		n.Pause = &PauseResumeConfig{}
		err = json.Unmarshal(cfg, n.Pause)
	default: // challenge variants
		n.Challenge = &ChallengeConfig{}
		err = json.Unmarshal(cfg, n.Challenge)
	}
	if err != nil {
		return Node{}, fmt.Errorf("decode %s config: %w", nd.Type, err)
	}

	if nd.Wrapper != nil {
		if nd.Type != NodeAction && !nd.Type.IsChallenge() {
			return Node{}, fmt.Errorf("wrapper only valid on action and challenge nodes")
		}
		n.Wrapper = &WrapperConfig{}
		if err := json.Unmarshal(nd.Wrapper, n.Wrapper); err != nil {
			return Node{}, fmt.Errorf("decode wrapper: %w", err)
		}
	}

	return n, nil
}

// Encode serializes a flow back to its document form. Round-trips with
// Decode; used by the trace CLI and tests.
func Encode(f *Flow) ([]byte, error) {
	doc := flowDoc{ID: f.ID, Name: f.Name, Edges: f.Edges}
	for i := range f.Nodes {
		n := &f.Nodes[i]
		cfg, err := marshalConfig(n)
		if err != nil {
			return nil, fmt.Errorf("flow %s: node %s: %w", f.ID, n.ID, err)
		}
		nd := nodeDoc{ID: n.ID, Type: n.Type, Label: n.Label, Config: cfg}
		if n.Wrapper != nil {
			w, err := json.Marshal(n.Wrapper)
			if err != nil {
				return nil, fmt.Errorf("flow %s: node %s wrapper: %w", f.ID, n.ID, err)
			}
			nd.Wrapper = w
		}
		doc.Nodes = append(doc.Nodes, nd)
	}
	return json.MarshalIndent(doc, "", "  ")
}

func marshalConfig(n *Node) (json.RawMessage, error) {
	var v any
	switch {
	case n.Trigger != nil:
		v = n.Trigger
	case n.Button != nil:
		v = n.Button
	case n.Action != nil:
		v = n.Action
	case n.Condition != nil:
		v = n.Condition
	case n.Branch != nil:
		v = n.Branch
	case n.Delay != nil:
		v = n.Delay
	case n.Choice != nil:
		v = n.Choice
	case n.SimpleAB != nil:
		v = n.SimpleAB
	case n.Input != nil:
		v = n.Input
	case n.Random != nil:
		v = n.Random
	case n.CapacityMsg != nil:
		v = n.CapacityMsg
	case n.Pause != nil:
		v = n.Pause
	case n.Challenge != nil:
		v = n.Challenge
	default:
		v = struct{}{}
	}
	return json.Marshal(v)
}
