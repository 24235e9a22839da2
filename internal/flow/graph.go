package flow

// index builds the node lookup map. Called by Decode and by New.
func (f *Flow) index() {
	f.byID = make(map[string]*Node, len(f.Nodes))
	for i := range f.Nodes {
		f.byID[f.Nodes[i].ID] = &f.Nodes[i]
	}
}

// New assembles a flow from parts. Used by tests and programmatic callers;
// authored documents go through Decode.
func New(id, name string, nodes []Node, edges []Edge) *Flow {
	f := &Flow{ID: id, Name: name, Nodes: nodes, Edges: edges}
	f.index()
	return f
}

// Node returns the node with the given id, or nil.
func (f *Flow) Node(id string) *Node {
	if f.byID == nil {
		f.index()
	}
	return f.byID[id]
}

// EdgesFrom returns the outgoing edges of a node in declaration order.
func (f *Flow) EdgesFrom(nodeID string) []Edge {
	var out []Edge
	for _, e := range f.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// EdgesFromHandle returns the outgoing edges of a node whose handle matches
// tag exactly. An empty tag matches edges with no handle.
func (f *Flow) EdgesFromHandle(nodeID, tag string) []Edge {
	var out []Edge
	for _, e := range f.Edges {
		if e.Source == nodeID && e.SourceHandle == tag {
			out = append(out, e)
		}
	}
	return out
}

// Triggers returns all entry nodes (trigger and button_press).
func (f *Flow) Triggers() []*Node {
	var out []*Node
	for i := range f.Nodes {
		if f.Nodes[i].Type.IsEntry() {
			out = append(out, &f.Nodes[i])
		}
	}
	return out
}

// SignificantNodeCount counts the nodes reachable from start that represent
// visible progress steps (everything except entry nodes). Used for the
// progress totals in flow_toast broadcasts. Cycles are handled by the
// visited set.
func (f *Flow) SignificantNodeCount(startID string) int {
	visited := make(map[string]bool)
	var walk func(id string)
	count := 0
	walk = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		n := f.Node(id)
		if n == nil {
			return
		}
		if !n.Type.IsEntry() {
			count++
		}
		for _, e := range f.EdgesFrom(id) {
			walk(e.Target)
		}
	}
	walk(startID)
	return count
}
