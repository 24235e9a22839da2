package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/flow"
)

// chain is one depth-first traversal from a start node. It runs on its own
// goroutine; all engine state it touches is taken under e.mu, and every
// suspension point re-checks the abort epoch through aborted().
type chain struct {
	e        *Engine
	af       *flow.ActiveFlow
	epoch    int64
	priority *int
	notify   bool
	visits   int
}

// stepResult tells the walker which outgoing edges to follow next.
type stepResult struct {
	handles  []string // source-handle tags to follow; nil means default output
	all      bool     // follow every outgoing edge (entry nodes)
	fallback string   // handle used when handles select no edges
	wait     bool     // a pending op owns continuation; follow nothing more
}

var followDefault = stepResult{}
var followNone = stepResult{wait: true}

func follow(handles ...string) stepResult {
	return stepResult{handles: handles}
}

// startChain launches a traversal goroutine. With afterAbort the launch is
// deferred behind a mailbox tick that clears the aborted flag, so the
// preempting chain observes a clean broadcast gate.
func (e *Engine) startChain(af *flow.ActiveFlow, nodeID string, priority *int, notify bool, afterAbort bool) {
	launch := func() {
		e.enterBusy()
		c := &chain{
			e:        e,
			af:       af,
			epoch:    e.epoch.Load(),
			priority: priority,
			notify:   notify,
		}
		go func() {
			defer e.exitBusy()
			if err := c.run(context.Background(), nodeID, false); err != nil && !errors.Is(err, errAborted) {
				slog.Warn("chain failed", "flow", af.Flow.ID, "error", err)
			}
		}()
	}

	if afterAbort {
		e.post("abort-reset", func() {
			e.aborted.Store(false)
			launch()
		})
		return
	}
	launch()
}

// resumeChain continues a suspended flow from the given node's edges with
// the priority and notify inherited from its execution record.
func (e *Engine) resumeChain(af *flow.ActiveFlow, nodeID, handle string) {
	e.mu.Lock()
	var priority *int
	var notify bool
	if ex := e.executions[af.Flow.ID]; ex != nil {
		priority = ex.Priority
		notify = ex.Notify
		ex.Waiting = false
	}
	edges := af.Flow.EdgesFromHandle(nodeID, handle)
	e.mu.Unlock()

	e.enterBusy()
	c := &chain{
		e:        e,
		af:       af,
		epoch:    e.epoch.Load(),
		priority: priority,
		notify:   notify,
	}
	go func() {
		defer e.exitBusy()
		ctx := context.Background()
		for _, edge := range edges {
			if err := c.run(ctx, edge.Target, true); err != nil {
				if !errors.Is(err, errAborted) {
					slog.Warn("resume failed", "flow", af.Flow.ID, "error", err)
				}
				return
			}
		}
		c.finalizeIfQuiescent(ctx)
	}()
}

func (c *chain) aborted() bool {
	return c.e.epoch.Load() != c.epoch
}

// run visits one node and recurses along its selected edges. Each visit
// holds a depth increment for the whole subtree below it, so depth reaches
// zero only when the outermost call unwinds.
func (c *chain) run(ctx context.Context, nodeID string, skipTriggers bool) error {
	if c.aborted() {
		return errAborted
	}

	n := c.af.Flow.Node(nodeID)
	if n == nil {
		err := newConfigError(c.af.Flow.ID, nodeID, "edge references missing node")
		c.e.reportError(ctx, err, "graph traversal")
		return nil
	}
	if skipTriggers && n.Type.IsEntry() {
		return nil
	}

	c.visits++
	if c.visits > c.e.maxVisits {
		err := newDepthError(c.af.Flow.ID, nodeID, c.visits, c.e.maxVisits)
		c.e.reportError(ctx, err, "node visit cap")
		return nil
	}

	c.enterNode(ctx, n)
	defer c.exitNode(ctx)

	res, err := c.exec(ctx, n)
	if err != nil {
		if errors.Is(err, errAborted) {
			return err
		}
		// Node failures are surfaced and the chain continues as if the node
		// resolved false: the false edges when authored, otherwise the
		// default output. Flows stay resilient to transient device errors.
		c.e.reportError(ctx, err, "node "+string(n.Type))
		res = follow(flow.HandleFalse)
		if len(c.af.Flow.EdgesFromHandle(n.ID, flow.HandleFalse)) == 0 {
			res = followDefault
		}
	}
	if res.wait && len(res.handles) == 0 {
		return nil
	}

	edges := c.selectEdges(n.ID, res)
	for _, edge := range edges {
		if err := c.run(ctx, edge.Target, true); err != nil {
			return err
		}
	}
	return nil
}

// selectEdges resolves a stepResult to concrete edges.
func (c *chain) selectEdges(nodeID string, res stepResult) []flow.Edge {
	f := c.af.Flow
	if res.all {
		return f.EdgesFrom(nodeID)
	}
	if res.handles == nil {
		return f.EdgesFromHandle(nodeID, "")
	}
	var out []flow.Edge
	for _, h := range res.handles {
		out = append(out, f.EdgesFromHandle(nodeID, h)...)
	}
	if len(out) == 0 && res.fallback != "" {
		out = f.EdgesFromHandle(nodeID, res.fallback)
	}
	return out
}

// enterNode takes the depth increment and, on first entry through a trigger,
// registers the execution record for status reporting and priority checks.
func (c *chain) enterNode(ctx context.Context, n *flow.Node) {
	e := c.e
	flowID := c.af.Flow.ID

	e.mu.Lock()
	e.depths[flowID]++
	entered := e.depths[flowID] == 1 && n.Type.IsEntry()
	if entered && e.executions[flowID] == nil {
		e.executions[flowID] = &execution{
			ID:        e.idGen.Generate(),
			FlowID:    flowID,
			FlowName:  c.af.Flow.Name,
			TriggerID: n.ID,
			Priority:  c.priority,
			Notify:    c.notify,
			Total:     c.af.Flow.SignificantNodeCount(n.ID),
		}
	}
	if ex := e.executions[flowID]; ex != nil && !n.Type.IsEntry() {
		ex.Step++
	}
	var execID string
	if ex := e.executions[flowID]; ex != nil {
		execID = ex.ID
	}
	e.mu.Unlock()

	e.journalExec(execID, flowID, n.ID, "visit")

	if entered {
		if c.notify {
			e.send(ctx, broadcast.Envelope{Type: broadcast.TypeFlowToast, Payload: broadcast.FlowToast{
				Event:    "start",
				FlowName: c.af.Flow.Name,
				Priority: c.priority,
			}})
		}
		e.publishExecutions(ctx)
	}

	// Once-marking happens at visit time so cycles through a once node stop
	// on the second pass.
	e.mu.Lock()
	if st := e.states[flowID]; st != nil && n.FireOnlyOnce() && !n.Type.IsEntry() {
		st.executedOnce[n.ID] = true
	}
	e.mu.Unlock()
}

// exitNode releases the depth increment; the outermost release finalizes the
// execution if nothing pending keeps the flow alive.
func (c *chain) exitNode(ctx context.Context) {
	e := c.e
	flowID := c.af.Flow.ID

	e.mu.Lock()
	e.depths[flowID]--
	drained := e.depths[flowID] == 0
	e.mu.Unlock()

	if drained && !c.aborted() {
		c.finalizeIfQuiescent(ctx)
	}
}

// finalizeIfQuiescent removes the execution record when the closure rule
// holds: depth zero and no pending op referencing the flow.
func (c *chain) finalizeIfQuiescent(ctx context.Context) {
	e := c.e
	flowID := c.af.Flow.ID

	e.mu.Lock()
	ex := e.executions[flowID]
	done := ex != nil && e.depths[flowID] == 0 && e.pendingCountLocked(flowID) == 0
	var execID string
	if done {
		execID = ex.ID
		delete(e.executions, flowID)
	} else if ex != nil && e.depths[flowID] == 0 {
		ex.Waiting = true
	}
	e.mu.Unlock()

	if !done {
		return
	}
	e.journalExec(execID, flowID, "", "complete")
	if c.notify {
		e.send(ctx, broadcast.Envelope{Type: broadcast.TypeFlowToast, Payload: broadcast.FlowToast{
			Event:    "complete",
			FlowName: c.af.Flow.Name,
			Priority: c.priority,
		}})
	}
	e.publishExecutions(ctx)
}

// publishExecutions broadcasts the current execution set. Status traffic
// passes the abort gate, so preemption updates reach the UI.
func (e *Engine) publishExecutions(ctx context.Context) {
	e.mu.Lock()
	out := make([]broadcast.ExecutionStatus, 0, len(e.executions))
	for _, ex := range e.executions {
		out = append(out, broadcast.ExecutionStatus{
			FlowID:      ex.FlowID,
			FlowName:    ex.FlowName,
			CurrentStep: ex.Step,
			TotalSteps:  ex.Total,
			Waiting:     ex.Waiting,
			Priority:    ex.Priority,
		})
	}
	e.mu.Unlock()

	e.send(ctx, broadcast.Envelope{Type: broadcast.TypeExecutionsUpdate, Payload: broadcast.ExecutionsUpdate{
		Executions: out,
	}})
}

// exec dispatches one node to its executor.
func (c *chain) exec(ctx context.Context, n *flow.Node) (stepResult, error) {
	switch {
	case n.Type.IsEntry():
		return stepResult{all: true}, nil

	case n.Type == flow.NodeAction:
		return c.execAction(ctx, n)

	case n.Type == flow.NodeCondition:
		return c.execCondition(n)

	case n.Type == flow.NodeBranch:
		return c.execBranch(n)

	case n.Type == flow.NodeDelay:
		return c.execDelay(ctx, n)

	case n.Type == flow.NodePlayerChoice:
		return c.execPlayerChoice(ctx, n)

	case n.Type == flow.NodeSimpleAB:
		return c.execSimpleAB(ctx, n)

	case n.Type == flow.NodeInput:
		return c.execInput(ctx, n)

	case n.Type == flow.NodeRandomNumber:
		return c.execRandomNumber(n)

	case n.Type == flow.NodeCapacityAIMessage:
		return c.execCapacityMessage(ctx, n, "character")

	case n.Type == flow.NodeCapacityPlayerMessage:
		return c.execCapacityMessage(ctx, n, "player")

	case n.Type == flow.NodePauseResume:
		return c.execPauseResume(n)

	case n.Type.IsChallenge():
		return c.execChallenge(ctx, n)

	default:
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "unknown node type "+string(n.Type))
	}
}
