package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/flow"
)

// candidate is one trigger node that matched the current event.
type candidate struct {
	af   *flow.ActiveFlow
	node *flow.Node
}

func (c candidate) cfg() *flow.TriggerConfig {
	return c.node.Trigger
}

// combinedPriority ranks a candidate across flows: flow tier dominates, then
// the trigger's own priority if it declared one, else 99.
func (c candidate) combinedPriority() int {
	p := 99
	if cfg := c.cfg(); cfg != nil && cfg.HasPriority {
		p = cfg.Priority
	}
	return int(c.af.Tier)*100 + p
}

func (c candidate) notify() bool {
	if cfg := c.cfg(); cfg != nil {
		return cfg.Notify
	}
	if c.node.Button != nil {
		return c.node.Button.Notify
	}
	return false
}

func (c candidate) priority() *int {
	if cfg := c.cfg(); cfg != nil && cfg.HasPriority {
		p := cfg.Priority
		return &p
	}
	return nil
}

// HandleEvent enqueues one external event for serialized dispatch. Returns
// false if the engine has stopped.
func (e *Engine) HandleEvent(ev Event) bool {
	return e.post("event:"+string(ev.Type), func() {
		e.dispatch(context.Background(), ev)
	})
}

// dispatch runs in the mailbox loop: bookkeeping first, then trigger
// matching and selection. Message-count bookkeeping runs strictly before
// matching so a pause_resume completing on this message influences
// subsequent processing.
func (e *Engine) dispatch(ctx context.Context, ev Event) {
	now := e.sched.Now()

	e.mu.Lock()
	idleFor := now.Sub(e.lastActivity)
	switch ev.Type {
	case EventIdle, EventRandom:
		// Synthetic ticks do not count as activity.
	default:
		e.lastActivity = now
	}
	if ev.Type == EventNewSession {
		e.messageCount = 0
		e.cooldowns = make(map[string]int)
	}
	speech := ev.Type == EventPlayerSpeaks || ev.Type == EventAISpeaks
	if speech {
		e.messageCount++
	}
	if ev.Type == EventDeviceOn || ev.Type == EventDeviceOff {
		st := e.session.DeviceStates[ev.Data.DeviceKey]
		st.On = ev.Type == EventDeviceOn
		e.session.DeviceStates[ev.Data.DeviceKey] = st
	}
	e.mu.Unlock()

	if e.jrn != nil {
		if err := e.jrn.RecordEvent(e.clock.Next(), string(ev.Type), ev.Data); err != nil {
			slog.Warn("journal event failed", "type", ev.Type, "error", err)
		}
	}

	if speech {
		e.checkPendingPauses()
	}
	if ev.Type == EventDeviceOff {
		e.resumeDeviceOn(ev.Data.DeviceKey)
	}

	e.mu.Lock()
	var normal, unblockable []candidate
	for _, id := range e.flowOrder {
		af := e.flows[id]
		st := e.states[id]
		if af == nil || st == nil {
			continue
		}
		for _, n := range af.Flow.Triggers() {
			if !e.triggerMatchesLocked(af, st, n, ev, idleFor) {
				continue
			}
			c := candidate{af: af, node: n}
			if cfg := c.cfg(); cfg != nil && cfg.Unblockable {
				unblockable = append(unblockable, c)
			} else {
				normal = append(normal, c)
			}
		}
	}

	for _, c := range unblockable {
		e.markFiredLocked(c)
	}
	winner, ok := e.selectWinnerLocked(normal)
	var preempt, blocked bool
	if ok {
		preempt, blocked = e.admitWinnerLocked(winner)
		if !blocked {
			e.markFiredLocked(winner)
		}
	}
	e.mu.Unlock()

	for _, c := range unblockable {
		e.startChain(c.af, c.node.ID, c.priority(), c.notify(), false)
	}
	if !ok {
		return
	}
	if blocked {
		if winner.notify() {
			e.send(ctx, broadcast.Envelope{Type: broadcast.TypeFlowToast, Payload: broadcast.FlowToast{
				Event:    "blocked",
				FlowName: winner.af.Flow.Name,
				Priority: winner.priority(),
			}})
		}
		return
	}
	if preempt {
		e.send(ctx, broadcast.Envelope{Type: broadcast.TypeFlowToast, Payload: broadcast.FlowToast{
			Event:    "takeover",
			FlowName: winner.af.Flow.Name,
			Priority: winner.priority(),
		}})
		e.publishExecutions(ctx)
	}
	e.startChain(winner.af, winner.node.ID, winner.priority(), winner.notify(), preempt)
}

// selectWinnerLocked picks the single normal trigger allowed to fire: lowest
// combined priority, ties broken uniformly at random.
func (e *Engine) selectWinnerLocked(normal []candidate) (candidate, bool) {
	if len(normal) == 0 {
		return candidate{}, false
	}
	best := normal[0].combinedPriority()
	tied := []candidate{normal[0]}
	for _, c := range normal[1:] {
		switch p := c.combinedPriority(); {
		case p < best:
			best = p
			tied = tied[:0]
			tied = append(tied, c)
		case p == best:
			tied = append(tied, c)
		}
	}
	return tied[e.rng.Intn(len(tied))], true
}

// admitWinnerLocked applies the preemption discipline. A winner with a
// numeric priority preempts a running prioritized flow only when strictly
// more urgent; otherwise it is dropped. Winners without a numeric priority
// always run.
func (e *Engine) admitWinnerLocked(c candidate) (preempt, blocked bool) {
	p := c.priority()
	if p == nil {
		return false, false
	}
	running := e.runningPriorityLocked()
	if running == nil {
		return false, false
	}
	if *p < *running {
		e.preemptLocked()
		return true, false
	}
	return false, true
}

// runningPriorityLocked returns the most urgent priority among executing
// flows whose trigger declared one, or nil when none did.
func (e *Engine) runningPriorityLocked() *int {
	var min *int
	for _, ex := range e.executions {
		if ex.Priority == nil {
			continue
		}
		if min == nil || *ex.Priority < *min {
			v := *ex.Priority
			min = &v
		}
	}
	return min
}

// preemptLocked aborts every in-flight chain: bump the epoch so suspended
// chains unwind at their next suspension point, drop their pending ops, and
// forget their execution records. The aborted flag gates flow-carrying
// broadcasts until the mailbox ticks again; startChain with afterAbort=true
// defers the new chain behind that reset.
func (e *Engine) preemptLocked() {
	e.epoch.Add(1)
	e.aborted.Store(true)
	e.clearPendingLocked()
	e.executions = make(map[string]*execution)
	e.timers.cancelAll()
}

// clearPendingLocked empties every pending-op map.
func (e *Engine) clearPendingLocked() {
	e.pendingCycles = make(map[string]pendingDevice)
	e.pendingDeviceOn = make(map[string]pendingDevice)
	e.pendingChoices = make(map[string]pendingChoice)
	e.pendingChallenges = make(map[string]pendingChallenge)
	e.pendingInputs = make(map[string]pendingInput)
	e.pendingPauses = make(map[string]*pendingPause)
}

// markFiredLocked records once-consumption and the cooldown watermark for a
// trigger that is about to run.
func (e *Engine) markFiredLocked(c candidate) {
	st := e.states[c.af.Flow.ID]
	if st == nil {
		return
	}
	if c.node.FireOnlyOnce() {
		st.executedOnce[c.node.ID] = true
	}
	e.cooldowns[cooldownKey(c.af.Flow.ID, c.node.ID)] = e.messageCount
}

func cooldownKey(flowID, nodeID string) string {
	return flowID + ":" + nodeID
}

// triggerMatchesLocked decides whether one entry node matches the event.
func (e *Engine) triggerMatchesLocked(
	af *flow.ActiveFlow,
	st *flowState,
	n *flow.Node,
	ev Event,
	idleFor time.Duration,
) bool {
	if n.FireOnlyOnce() && st.executedOnce[n.ID] {
		return false
	}

	if n.Type == flow.NodeButtonPress {
		if ev.Type != EventButtonPress || n.Button == nil {
			return false
		}
		if ev.Data.FlowID != "" && ev.Data.FlowID != af.Flow.ID {
			return false
		}
		if ev.Data.ButtonID != "" {
			return ev.Data.ButtonID == n.Button.ButtonID || ev.Data.ButtonID == n.ID
		}
		return strings.EqualFold(ev.Data.Label, n.Button.Label)
	}

	cfg := n.Trigger
	if cfg == nil {
		return false
	}

	switch cfg.TriggerType {
	case flow.TriggerDeviceOn:
		return ev.Type == EventDeviceOn && e.deviceFilterMatches(cfg.DeviceFilter, ev.Data.DeviceKey)

	case flow.TriggerDeviceOff:
		return ev.Type == EventDeviceOff && e.deviceFilterMatches(cfg.DeviceFilter, ev.Data.DeviceKey)

	case flow.TriggerPlayerSpeaks:
		return ev.Type == EventPlayerSpeaks && e.speechMatchesLocked(af.Flow.ID, n, cfg, ev.Data.Content)

	case flow.TriggerAISpeaks:
		return ev.Type == EventAISpeaks && e.speechMatchesLocked(af.Flow.ID, n, cfg, ev.Data.Content)

	case flow.TriggerRandom:
		return ev.Type == EventRandom && e.rng.Float64()*100 < cfg.Probability

	case flow.TriggerIdle:
		return ev.Type == EventIdle && idleFor.Seconds() >= float64(cfg.IdleSeconds)

	case flow.TriggerNewSession:
		return ev.Type == EventNewSession

	case flow.TriggerPlayerStateChange:
		if ev.Type != EventPlayerStateChange || cfg.StateType != ev.Data.StateType {
			return false
		}
		if cfg.StateType == "emotion" {
			return compareText(cfg.Operator, ev.Data.NewText, cfg.TextValue)
		}
		return compareInt(cfg.Operator, int(ev.Data.NewValue), int(cfg.Value), int(cfg.Min), int(cfg.Max))

	case flow.TriggerFirstMessage:
		return ev.Type == EventPlayerSpeaks && e.messageCount == 1

	default:
		return false
	}
}

// speechMatchesLocked applies keyword patterns and the per-trigger message
// cooldown. No keywords means match-everything.
func (e *Engine) speechMatchesLocked(flowID string, n *flow.Node, cfg *flow.TriggerConfig, content string) bool {
	if len(cfg.Keywords) > 0 && !flow.MatchAny(cfg.Keywords, content) {
		return false
	}
	cooldown := 5
	if cfg.Cooldown != nil {
		cooldown = *cfg.Cooldown
	}
	last, fired := e.cooldowns[cooldownKey(flowID, n.ID)]
	if fired && e.messageCount-last < cooldown {
		return false
	}
	return true
}

// deviceFilterMatches resolves the author's filter through the catalog and
// compares device keys. Empty filter matches everything.
func (e *Engine) deviceFilterMatches(filter, key string) bool {
	if filter == "" {
		return true
	}
	if e.catalog != nil {
		if d, err := e.catalog.Resolve(filter); err == nil {
			return d.MatchesFilter(key)
		}
	}
	return filter == key
}
