package engine

import (
	"context"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/flow"
)

// Lifecycle controls. These are called from transport handlers and the CLI;
// each takes the engine lock directly so activation state is consistent the
// moment the call returns, without waiting for a mailbox tick.

// ActivateFlow attaches a flow at the given tier. Re-activating a flow id
// replaces it and resets its per-activation state.
func (e *Engine) ActivateFlow(f *flow.Flow, tier flow.PriorityTier) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.flows[f.ID]; !exists {
		e.flowOrder = append(e.flowOrder, f.ID)
	}
	e.flows[f.ID] = &flow.ActiveFlow{Flow: f, Tier: tier}
	e.states[f.ID] = newFlowState()
}

// DeactivateFlow detaches a flow. With cancelPending, its pending ops are
// dropped and its timers cancelled; otherwise in-flight completions are
// left to finish (their resume path finds the flow gone and stops).
func (e *Engine) DeactivateFlow(flowID string, cancelPending bool) {
	e.mu.Lock()
	delete(e.flows, flowID)
	delete(e.states, flowID)
	delete(e.executions, flowID)
	for i, id := range e.flowOrder {
		if id == flowID {
			e.flowOrder = append(e.flowOrder[:i], e.flowOrder[i+1:]...)
			break
		}
	}
	if cancelPending {
		e.dropPendingForLocked(flowID)
	}
	e.mu.Unlock()

	if cancelPending {
		e.timers.cancelFlow(flowID)
	}
}

// DeactivateAllFlows detaches everything. Once-bookkeeping goes with the
// per-activation state; pending ops are dropped.
func (e *Engine) DeactivateAllFlows() {
	e.mu.Lock()
	ids := make([]string, len(e.flowOrder))
	copy(ids, e.flowOrder)
	e.mu.Unlock()

	for _, id := range ids {
		e.DeactivateFlow(id, true)
	}
}

// dropPendingForLocked removes every pending op and monitor of one flow.
func (e *Engine) dropPendingForLocked(flowID string) {
	for k, p := range e.pendingCycles {
		if p.FlowID == flowID {
			delete(e.pendingCycles, k)
		}
	}
	for k, p := range e.pendingDeviceOn {
		if p.FlowID == flowID {
			delete(e.pendingDeviceOn, k)
		}
	}
	for k, p := range e.pendingChoices {
		if p.FlowID == flowID {
			delete(e.pendingChoices, k)
		}
	}
	for k, p := range e.pendingChallenges {
		if p.FlowID == flowID {
			delete(e.pendingChallenges, k)
		}
	}
	for k, p := range e.pendingInputs {
		if p.FlowID == flowID {
			delete(e.pendingInputs, k)
		}
	}
	for k, p := range e.pendingPauses {
		if p.FlowID == flowID {
			delete(e.pendingPauses, k)
		}
	}
	for k, m := range e.monitors {
		if m.FlowID == flowID {
			delete(e.monitors, k)
		}
	}
}

// ActiveFlows returns the attached flows in activation order.
func (e *Engine) ActiveFlows() []*flow.ActiveFlow {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*flow.ActiveFlow, 0, len(e.flowOrder))
	for _, id := range e.flowOrder {
		if af := e.flows[id]; af != nil {
			out = append(out, af)
		}
	}
	return out
}

// PauseFlows suspends flow-message delivery, for instance while the chat is
// defocused. In-flight chains park at their next message broadcast.
func (e *Engine) PauseFlows(reason string) {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = true
	e.pauseReason = reason
	e.pausedEnv = nil
	e.pausedLabel = ""
	e.resumeCh = make(chan struct{})
	e.mu.Unlock()

	e.send(context.Background(), broadcast.Envelope{Type: broadcast.TypeFlowPaused, Payload: broadcast.FlowPaused{
		Paused: true,
		Reason: reason,
	}})
}

// ResumeFlows lifts the pause: the single most recent parked message is
// re-broadcast and the parked chains continue from their next node.
func (e *Engine) ResumeFlows() {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = false
	e.pauseReason = ""
	env := e.pausedEnv
	e.pausedEnv = nil
	label := e.pausedLabel
	e.pausedLabel = ""
	ch := e.resumeCh
	e.resumeCh = nil
	e.mu.Unlock()

	resumingAt := ""
	if env != nil {
		if m, ok := env.Payload.(broadcast.FlowMessage); ok {
			resumingAt = m.NodeID
		}
		e.send(context.Background(), *env)
	}
	if ch != nil {
		close(ch)
	}

	e.send(context.Background(), broadcast.Envelope{Type: broadcast.TypeFlowPaused, Payload: broadcast.FlowPaused{
		Paused:           false,
		CurrentNodeLabel: label,
		ResumingAt:       resumingAt,
	}})
}

// EmergencyStop aborts everything: every chain unwinds, every pending op
// and monitor is dropped, timers are cancelled, once-bookkeeping resets,
// and the previous player state is synchronized so no phantom state-change
// triggers fire afterwards. Returns the devices flows had activated so the
// caller can turn them off.
func (e *Engine) EmergencyStop() []*device.Device {
	e.mu.Lock()
	e.epoch.Add(1)
	e.aborted.Store(true)

	seen := make(map[string]*device.Device)
	for k, p := range e.pendingCycles {
		seen[k] = p.Device
	}
	for k, p := range e.pendingDeviceOn {
		seen[k] = p.Device
	}
	for k, m := range e.monitors {
		seen[k] = m.Device
	}
	for k, st := range e.session.DeviceStates {
		if (st.On || st.Cycling) && seen[k] == nil {
			if e.catalog != nil {
				if d, err := e.catalog.Resolve(k); err == nil {
					seen[k] = d
				}
			}
		}
	}

	e.clearPendingLocked()
	e.monitors = make(map[string]*deviceMonitor)
	e.executions = make(map[string]*execution)
	for _, st := range e.states {
		st.executedOnce = make(map[string]bool)
		st.onceConds = make(map[string]bool)
	}
	for k := range e.session.DeviceStates {
		delete(e.session.DeviceStates, k)
	}
	e.prevPlayer = e.session.snapshot()
	e.mu.Unlock()

	e.timers.cancelAll()
	e.post("abort-reset", func() {
		e.aborted.Store(false)
	})
	e.publishExecutions(context.Background())

	devices := make([]*device.Device, 0, len(seen))
	for _, d := range seen {
		if d != nil {
			devices = append(devices, d)
		}
	}
	return devices
}

// SetPlayerState mutates one player-state field from outside the flows.
// Broadcasts the update, re-evaluates device monitors, and feeds a
// state-change event through the dispatcher when the value actually moved.
func (e *Engine) SetPlayerState(stateType string, value float64, text string) bool {
	return e.post("set-state:"+stateType, func() {
		e.applyPlayerState(context.Background(), stateType, value, text)
	})
}

func (e *Engine) applyPlayerState(ctx context.Context, stateType string, value float64, text string) {
	e.mu.Lock()
	changed := false
	var env broadcast.Envelope
	switch stateType {
	case "capacity":
		v := clampCapacity(int(value))
		changed = v != e.prevPlayer.capacity
		e.session.Capacity = v
		e.prevPlayer.capacity = v
		value = float64(v)
		env = broadcast.Envelope{Type: broadcast.TypeCapacityUpdate, Payload: broadcast.CapacityUpdate{Capacity: v}}

	case "pain":
		v := clampPain(int(value))
		changed = v != e.prevPlayer.pain
		e.session.Pain = v
		e.prevPlayer.pain = v
		value = float64(v)
		env = broadcast.Envelope{Type: broadcast.TypePainUpdate, Payload: broadcast.PainUpdate{Pain: v}}

	case "emotion":
		changed = text != e.prevPlayer.emotion
		e.session.Emotion = text
		e.prevPlayer.emotion = text
		env = broadcast.Envelope{Type: broadcast.TypeEmotionUpdate, Payload: broadcast.EmotionUpdate{Emotion: text}}

	default:
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.send(ctx, env)
	e.checkDeviceMonitors(ctx)

	if changed {
		e.dispatch(ctx, Event{Type: EventPlayerStateChange, Data: EventData{
			StateType: stateType,
			NewValue:  value,
			NewText:   text,
		}})
	}
}

// SetIdentities updates the names used by variable substitution and message
// attribution.
func (e *Engine) SetIdentities(playerName, characterName, characterID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if playerName != "" {
		e.session.PlayerName = playerName
	}
	if characterName != "" {
		e.session.CharacterName = characterName
	}
	if characterID != "" {
		e.session.ActiveCharacterID = characterID
	}
}
