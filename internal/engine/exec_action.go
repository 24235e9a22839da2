package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/flow"
)

// substitute expands placeholders against the session under the engine lock.
func (c *chain) substitute(text string) string {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	return c.e.session.Substitute(text)
}

// sleep parks the chain for d. The busy slot is released while parked so
// WaitIdle treats a sleeping chain as quiescent; the wake routes through the
// mailbox and holds it until the chain is busy again, so a waker observing
// quiescence after the wake cannot miss the resumed chain.
func (c *chain) sleep(ctx context.Context, d time.Duration) error {
	e := c.e
	if d <= 0 {
		if c.aborted() {
			return errAborted
		}
		return ctx.Err()
	}

	wake := make(chan struct{})
	ack := make(chan struct{})
	t := e.sched.AfterFunc(d, func() {
		if e.post("sleep-wake", func() {
			close(wake)
			<-ack
		}) {
			return
		}
		close(wake)
	})

	e.exitBusy()
	select {
	case <-ctx.Done():
		if !t.Stop() {
			go func() {
				<-wake
				close(ack)
			}()
		}
		e.enterBusy()
		return ctx.Err()
	case <-wake:
		e.enterBusy()
		close(ack)
	}
	if c.aborted() {
		return errAborted
	}
	return nil
}

// sendFlowMessage broadcasts one substituted message from the flow. target
// "player" speaks as the player, anything else as the character.
func (c *chain) sendFlowMessage(ctx context.Context, n *flow.Node, target, text string, suppress bool, decorate func(*broadcast.FlowMessage)) error {
	c.e.mu.Lock()
	s := c.e.session
	msg := broadcast.FlowMessage{
		Content:     s.Substitute(text),
		SuppressLlm: suppress,
		FlowID:      c.af.Flow.ID,
		NodeID:      n.ID,
	}
	typ := broadcast.TypeAIMessage
	msg.Sender = s.CharacterName
	if target == "player" {
		typ = broadcast.TypePlayerMessage
		msg.Sender = s.PlayerName
	}
	c.e.mu.Unlock()

	if decorate != nil {
		decorate(&msg)
	}
	c.e.send(ctx, broadcast.Envelope{Type: typ, Payload: msg})
	if c.aborted() {
		return errAborted
	}
	return nil
}

// preWrapper runs the pre-message and pre-delay hooks of action and
// challenge nodes. outcomes annotates challenge pre-messages so the chat
// pipeline can avoid spoiling the result.
func (c *chain) preWrapper(ctx context.Context, n *flow.Node, outcomes []string) error {
	w := n.Wrapper
	if w == nil {
		return nil
	}
	if w.PreMessage != "" {
		err := c.sendFlowMessage(ctx, n, w.PreMessageTarget, w.PreMessage, w.PreMessageSuppressLlm,
			func(m *broadcast.FlowMessage) {
				if len(outcomes) > 0 {
					m.IsChallengePreMessage = true
					m.PossibleOutcomes = outcomes
				}
			})
		if err != nil {
			return err
		}
	}
	if w.PreDelaySeconds > 0 {
		return c.sleep(ctx, secondsToDuration(w.PreDelaySeconds))
	}
	return nil
}

// postWrapper mirrors preWrapper after the node's own work.
func (c *chain) postWrapper(ctx context.Context, n *flow.Node) error {
	w := n.Wrapper
	if w == nil {
		return nil
	}
	if w.PostMessage != "" {
		if err := c.sendFlowMessage(ctx, n, w.PostMessageTarget, w.PostMessage, w.PostMessageSuppressLlm, nil); err != nil {
			return err
		}
	}
	if w.PostDelaySeconds > 0 {
		return c.sleep(ctx, secondsToDuration(w.PostDelaySeconds))
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// resolveNumber parses a numeric field that may be a literal or a flow
// variable reference.
func (c *chain) resolveNumber(raw string) (float64, error) {
	s := strings.TrimSpace(c.substitute(raw))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

func (c *chain) execAction(ctx context.Context, n *flow.Node) (stepResult, error) {
	cfg := n.Action
	if cfg == nil {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "action node without config")
	}
	if err := c.preWrapper(ctx, n, nil); err != nil {
		return followDefault, err
	}
	res, err := c.doAction(ctx, n, cfg)
	if err != nil {
		return res, err
	}
	if err := c.postWrapper(ctx, n); err != nil {
		return res, err
	}
	return res, nil
}

func (c *chain) doAction(ctx context.Context, n *flow.Node, cfg *flow.ActionConfig) (stepResult, error) {
	switch cfg.ActionType {
	case flow.ActionSendMessage:
		return followDefault, c.sendFlowMessage(ctx, n, "character", cfg.Text, cfg.SuppressLlm, nil)

	case flow.ActionSendPlayerMessage:
		return followDefault, c.sendFlowMessage(ctx, n, "player", cfg.Text, cfg.SuppressLlm, nil)

	case flow.ActionSystemMessage:
		// System messages are verbatim, no substitution.
		c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypeSystemMessage, Payload: broadcast.SystemMessage{
			Content: cfg.Text,
		}})
		if c.aborted() {
			return followDefault, errAborted
		}
		return followDefault, nil

	case flow.ActionDeviceOn:
		return c.deviceOn(ctx, n, cfg)

	case flow.ActionDeviceOff:
		return c.deviceOff(ctx, n, cfg)

	case flow.ActionStartCycle:
		return c.startCycle(ctx, n, cfg)

	case flow.ActionStopCycle:
		return c.stopCycle(ctx, n, cfg)

	case flow.ActionPulsePump:
		return c.pulsePump(ctx, n, cfg)

	case flow.ActionDeclareVariable, flow.ActionSetVariable:
		return c.setVariable(ctx, n, cfg)

	case flow.ActionToggleReminder:
		return c.toggle(ctx, cfg.ReminderID, cfg.IsGlobal, cfg.Enable, false)

	case flow.ActionToggleButton:
		return c.toggle(ctx, cfg.ButtonID, cfg.IsGlobal, cfg.Enable, true)

	default:
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "unknown action type "+string(cfg.ActionType))
	}
}

func (c *chain) resolveDevice(n *flow.Node, ref string) (*device.Device, error) {
	if c.e.catalog == nil {
		return nil, &EngineError{Code: ErrCodeDevice, Message: "no device catalog", FlowID: c.af.Flow.ID, NodeID: n.ID}
	}
	d, err := c.e.catalog.Resolve(ref)
	if err != nil {
		return nil, &EngineError{Code: ErrCodeDevice, Message: err.Error(), FlowID: c.af.Flow.ID, NodeID: n.ID}
	}
	return d, nil
}

func (c *chain) deviceOn(ctx context.Context, n *flow.Node, cfg *flow.ActionConfig) (stepResult, error) {
	d, err := c.resolveDevice(n, cfg.Device)
	if err != nil {
		return followDefault, err
	}
	key := d.Key()

	c.e.mu.Lock()
	already := c.e.session.DeviceStates[key].On
	capacity := c.e.session.Capacity
	c.e.mu.Unlock()
	if already {
		return follow(flow.HandleImmediate), nil
	}

	// Safety rule: never inflate a pump at full capacity unless the author
	// explicitly allowed it.
	if d.IsPump() && capacity >= 100 && !cfg.AllowOverInflation {
		c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypePumpSafetyBlock, Payload: broadcast.PumpSafetyBlock{
			Reason:   "capacity at maximum",
			Capacity: capacity,
			Device:   d.Name,
			Source:   "device_on",
		}})
		if c.aborted() {
			return followDefault, errAborted
		}
		return follow(flow.HandleImmediate), nil
	}

	if err := c.e.driver.TurnOn(ctx, d); err != nil {
		return followDefault, &EngineError{Code: ErrCodeDevice, Message: err.Error(), FlowID: c.af.Flow.ID, NodeID: n.ID}
	}
	if c.aborted() {
		return followDefault, errAborted
	}

	c.e.mu.Lock()
	st := c.e.session.DeviceStates[key]
	st.On = true
	c.e.session.DeviceStates[key] = st
	c.e.pendingDeviceOn[key] = pendingDevice{FlowID: c.af.Flow.ID, NodeID: n.ID, Device: d}
	c.e.mu.Unlock()

	if cfg.Until != nil {
		c.registerMonitor(d, cfg.Until, MonitorDeviceOn)
	}
	return follow(flow.HandleImmediate), nil
}

func (c *chain) deviceOff(ctx context.Context, n *flow.Node, cfg *flow.ActionConfig) (stepResult, error) {
	d, err := c.resolveDevice(n, cfg.Device)
	if err != nil {
		return followDefault, err
	}
	key := d.Key()

	c.e.mu.Lock()
	on := c.e.session.DeviceStates[key].On
	c.e.mu.Unlock()
	if !on {
		return followDefault, nil
	}

	if err := c.e.driver.TurnOff(ctx, d); err != nil {
		return followDefault, &EngineError{Code: ErrCodeDevice, Message: err.Error(), FlowID: c.af.Flow.ID, NodeID: n.ID}
	}

	c.e.mu.Lock()
	st := c.e.session.DeviceStates[key]
	st.On = false
	c.e.session.DeviceStates[key] = st
	delete(c.e.monitors, key)
	_, hadPending := c.e.pendingDeviceOn[key]
	c.e.mu.Unlock()

	if hadPending {
		c.e.resumeDeviceOn(key)
	}
	if c.aborted() {
		return followDefault, errAborted
	}
	return followDefault, nil
}

func (c *chain) startCycle(ctx context.Context, n *flow.Node, cfg *flow.ActionConfig) (stepResult, error) {
	d, err := c.resolveDevice(n, cfg.Device)
	if err != nil {
		return followDefault, err
	}
	key := d.Key()

	c.e.mu.Lock()
	cycling := c.e.session.DeviceStates[key].Cycling
	c.e.mu.Unlock()
	if cycling {
		return follow(flow.HandleImmediate), nil
	}

	err = c.e.driver.StartCycle(ctx, d,
		secondsToDuration(cfg.Duration), secondsToDuration(cfg.Interval), cfg.Cycles)
	if err != nil {
		// A cycle that never started has nothing to complete against, so
		// this segment ends here instead of walking the completion edges.
		c.e.reportError(ctx, &EngineError{Code: ErrCodeDevice, Message: err.Error(), FlowID: c.af.Flow.ID, NodeID: n.ID}, "start_cycle")
		return followNone, nil
	}
	if c.aborted() {
		return followDefault, errAborted
	}

	infinite := cfg.Cycles == 0 && cfg.Until == nil

	c.e.mu.Lock()
	st := c.e.session.DeviceStates[key]
	st.On = true
	st.Cycling = true
	c.e.session.DeviceStates[key] = st
	c.e.pendingCycles[key] = pendingDevice{FlowID: c.af.Flow.ID, NodeID: n.ID, Infinite: infinite, Device: d}
	c.e.mu.Unlock()

	if cfg.Until != nil {
		c.registerMonitor(d, cfg.Until, MonitorCycle)
	}
	if infinite {
		c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypeInfCycleStart, Payload: broadcast.InfiniteCycle{
			Device: d.Name,
			FlowID: c.af.Flow.ID,
			NodeID: n.ID,
		}})
		if c.aborted() {
			return followDefault, errAborted
		}
	}
	return follow(flow.HandleImmediate), nil
}

func (c *chain) stopCycle(ctx context.Context, n *flow.Node, cfg *flow.ActionConfig) (stepResult, error) {
	d, err := c.resolveDevice(n, cfg.Device)
	if err != nil {
		return followDefault, err
	}
	key := d.Key()

	if err := c.e.driver.StopCycle(ctx, d); err != nil {
		if !errors.Is(err, device.ErrNoActiveCycle) {
			return followDefault, &EngineError{Code: ErrCodeDevice, Message: err.Error(), FlowID: c.af.Flow.ID, NodeID: n.ID}
		}
		// Nothing was cycling; turn the device off so a stuck actuator
		// still ends up safe.
		if err := c.e.driver.TurnOff(ctx, d); err != nil {
			return followDefault, &EngineError{Code: ErrCodeDevice, Message: err.Error(), FlowID: c.af.Flow.ID, NodeID: n.ID}
		}
	}

	c.e.mu.Lock()
	st := c.e.session.DeviceStates[key]
	st.On = false
	st.Cycling = false
	c.e.session.DeviceStates[key] = st
	delete(c.e.monitors, key)
	_, hadPending := c.e.pendingCycles[key]
	c.e.mu.Unlock()

	if hadPending {
		c.e.resumeCycle(key)
	}
	if c.aborted() {
		return followDefault, errAborted
	}
	return followDefault, nil
}

func (c *chain) pulsePump(ctx context.Context, n *flow.Node, cfg *flow.ActionConfig) (stepResult, error) {
	d, err := c.resolveDevice(n, cfg.Device)
	if err != nil {
		return followDefault, err
	}
	count, err := c.resolveNumber(cfg.Pulses)
	if err != nil {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "pulse count "+err.Error())
	}

	for i := 0; i < int(count); i++ {
		if err := c.e.driver.TurnOn(ctx, d); err != nil {
			return followDefault, &EngineError{Code: ErrCodeDevice, Message: err.Error(), FlowID: c.af.Flow.ID, NodeID: n.ID}
		}
		if err := c.sleep(ctx, time.Second); err != nil {
			// Best effort: never leave the pump on mid-pulse.
			_ = c.e.driver.TurnOff(context.Background(), d)
			return followDefault, err
		}
		if err := c.e.driver.TurnOff(ctx, d); err != nil {
			return followDefault, &EngineError{Code: ErrCodeDevice, Message: err.Error(), FlowID: c.af.Flow.ID, NodeID: n.ID}
		}
		if i < int(count)-1 {
			if err := c.sleep(ctx, time.Second); err != nil {
				return followDefault, err
			}
		}
	}
	return followDefault, nil
}

// registerMonitor installs the auto-off predicate for a device. Timer
// monitors arm a flow-scoped timer; the rest wait for state changes.
func (c *chain) registerMonitor(d *device.Device, until *flow.UntilConfig, kind MonitorKind) {
	key := d.Key()
	if until.Type == flow.UntilTimer {
		t := c.e.sched.AfterFunc(time.Duration(until.Seconds)*time.Second, func() {
			c.e.post("monitor-timer:"+key, func() {
				c.e.fireMonitor(context.Background(), key)
			})
		})
		c.e.timers.add(c.af.Flow.ID, t)
		c.e.mu.Lock()
		c.e.monitors[key] = &deviceMonitor{Until: *until, FlowID: c.af.Flow.ID, Kind: kind, Device: d}
		c.e.mu.Unlock()
		return
	}

	c.e.mu.Lock()
	c.e.monitors[key] = &deviceMonitor{Until: *until, FlowID: c.af.Flow.ID, Kind: kind, Device: d}
	c.e.mu.Unlock()
}

func (c *chain) setVariable(ctx context.Context, n *flow.Node, cfg *flow.ActionConfig) (stepResult, error) {
	value := c.substitute(cfg.VariableValue)

	switch cfg.VariableScope {
	case "", "custom":
		if cfg.VariableName == "" {
			return followDefault, newConfigError(c.af.Flow.ID, n.ID, "variable without a name")
		}
		c.e.mu.Lock()
		c.e.session.FlowVariables[cfg.VariableName] = value
		c.e.mu.Unlock()
		return followDefault, nil

	case "capacity":
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return followDefault, newConfigError(c.af.Flow.ID, n.ID, "capacity value must be a number")
		}
		c.e.mu.Lock()
		c.e.session.Capacity = clampCapacity(v)
		capacity := c.e.session.Capacity
		c.e.mu.Unlock()
		c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypeCapacityUpdate, Payload: broadcast.CapacityUpdate{Capacity: capacity}})
		c.e.checkDeviceMonitors(ctx)

	case "pain":
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return followDefault, newConfigError(c.af.Flow.ID, n.ID, "pain value must be a number")
		}
		c.e.mu.Lock()
		c.e.session.Pain = clampPain(v)
		pain := c.e.session.Pain
		c.e.mu.Unlock()
		c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypePainUpdate, Payload: broadcast.PainUpdate{Pain: pain}})
		c.e.checkDeviceMonitors(ctx)

	case "emotion":
		c.e.mu.Lock()
		c.e.session.Emotion = value
		c.e.mu.Unlock()
		c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypeEmotionUpdate, Payload: broadcast.EmotionUpdate{Emotion: value}})
		c.e.checkDeviceMonitors(ctx)

	default:
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "unknown variable scope "+cfg.VariableScope)
	}

	if c.aborted() {
		return followDefault, errAborted
	}
	return followDefault, nil
}

func (c *chain) toggle(ctx context.Context, id string, isGlobal, enable, button bool) (stepResult, error) {
	if c.e.settings == nil {
		return followDefault, newConfigError(c.af.Flow.ID, "", "no settings store configured")
	}
	var err error
	if button {
		err = c.e.settings.ToggleButton(id, isGlobal, enable)
	} else {
		err = c.e.settings.ToggleReminder(id, isGlobal, enable)
	}
	if err != nil {
		return followDefault, fmt.Errorf("toggle %q: %w", id, err)
	}

	action := "disabled"
	if enable {
		action = "enabled"
	}
	c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypeReminderUpdated, Payload: broadcast.ReminderUpdated{
		ReminderID: id,
		Action:     action,
		IsGlobal:   isGlobal,
	}})

	// Character-scoped toggles mutate the character documents; push the
	// refreshed set so the UI re-renders without a round trip.
	if !isGlobal {
		if chars, err := c.e.settings.Characters(); err != nil {
			slog.Warn("character refresh failed", "error", err)
		} else {
			c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypeCharactersUpdate, Payload: broadcast.CharactersUpdate{
				Characters: chars,
			}})
		}
	}
	if c.aborted() {
		return followDefault, errAborted
	}
	return followDefault, nil
}
