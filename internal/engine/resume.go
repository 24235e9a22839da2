package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/flow"
	"github.com/loom-app/loom/internal/llm"
)

// Resume paths. Each external completion enters the mailbox, consumes its
// pending op under the lock, and continues the flow from the op's node with
// skip-triggers traversal. Priority and notify are inherited from the
// execution record inside resumeChain.

// HandleCycleComplete reports a finished device cycle. Called by the device
// driver's completion callback.
func (e *Engine) HandleCycleComplete(deviceKey string) bool {
	return e.post("cycle-complete:"+deviceKey, func() {
		e.resumeCycle(deviceKey)
	})
}

// HandleDeviceOnComplete reports that a monitored device-on phase ended.
func (e *Engine) HandleDeviceOnComplete(deviceKey string) bool {
	return e.post("device-on-complete:"+deviceKey, func() {
		e.resumeDeviceOn(deviceKey)
	})
}

func (e *Engine) resumeCycle(key string) {
	e.mu.Lock()
	p, ok := e.pendingCycles[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pendingCycles, key)
	st := e.session.DeviceStates[key]
	st.Cycling = false
	e.session.DeviceStates[key] = st
	af := e.flows[p.FlowID]
	e.mu.Unlock()

	if p.Infinite {
		e.send(context.Background(), broadcast.Envelope{Type: broadcast.TypeInfCycleEnd, Payload: broadcast.InfiniteCycle{
			Device: p.Device.Name,
			FlowID: p.FlowID,
			NodeID: p.NodeID,
		}})
	}
	if af == nil {
		return
	}
	e.resumeChain(af, p.NodeID, flow.HandleCompletion)
}

func (e *Engine) resumeDeviceOn(key string) {
	e.mu.Lock()
	p, ok := e.pendingDeviceOn[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pendingDeviceOn, key)
	st := e.session.DeviceStates[key]
	st.On = false
	e.session.DeviceStates[key] = st
	af := e.flows[p.FlowID]
	e.mu.Unlock()

	if af == nil {
		return
	}
	e.resumeChain(af, p.NodeID, flow.HandleCompletion)
}

// checkDeviceMonitors evaluates every "until" predicate against the current
// session and fires the ones that are met. Called after each capacity, pain,
// or emotion change.
func (e *Engine) checkDeviceMonitors(ctx context.Context) {
	e.mu.Lock()
	var fired []string
	for key, m := range e.monitors {
		if m.met(e.session) {
			fired = append(fired, key)
		}
	}
	e.mu.Unlock()

	for _, key := range fired {
		e.fireMonitor(ctx, key)
	}
}

// fireMonitor turns the monitored device off and resumes the completion
// path recorded at registration. The kind fixed at registration decides
// whether this is a cycle stop or a plain turn-off.
func (e *Engine) fireMonitor(ctx context.Context, key string) {
	e.mu.Lock()
	m, ok := e.monitors[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.monitors, key)
	e.mu.Unlock()

	switch m.Kind {
	case MonitorCycle:
		if err := e.driver.StopCycle(ctx, m.Device); err != nil && !errors.Is(err, device.ErrNoActiveCycle) {
			slog.Warn("monitor stop_cycle failed", "device", key, "error", err)
		}
		e.resumeCycle(key)

	case MonitorDeviceOn:
		if err := e.driver.TurnOff(ctx, m.Device); err != nil {
			slog.Warn("monitor turn_off failed", "device", key, "error", err)
		}
		e.resumeDeviceOn(key)
	}
}

// HandlePlayerChoice delivers the user's selection for a pending choice.
func (e *Engine) HandlePlayerChoice(nodeID, choiceID, label string) bool {
	return e.post("choice:"+nodeID, func() {
		e.resolveChoice(nodeID, choiceID, label)
	})
}

func (e *Engine) resolveChoice(nodeID, choiceID, label string) {
	e.mu.Lock()
	p, ok := e.pendingChoices[nodeID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pendingChoices, nodeID)
	af := e.flows[p.FlowID]
	var chosen *flow.ChoiceOption
	for i := range p.Choices {
		if p.Choices[i].ID == choiceID {
			chosen = &p.Choices[i]
			break
		}
	}
	if chosen != nil && label == "" {
		label = chosen.Label
	}
	e.mu.Unlock()

	if af == nil {
		return
	}

	epoch := e.epoch.Load()
	e.enterBusy()
	go func() {
		defer e.exitBusy()
		ctx := context.Background()
		if !p.IsSimpleAB && chosen != nil {
			e.sendChoiceResponse(ctx, epoch, chosen, label)
		}
		if e.epoch.Load() != epoch {
			return
		}
		e.resumeChain(af, nodeID, choiceID)
	}()
}

// sendChoiceResponse emits the player's in-character commitment to the
// choice: a literal template, an LLM-enhanced rewrite of it, or a fully
// generated one.
func (e *Engine) sendChoiceResponse(ctx context.Context, epoch int64, opt *flow.ChoiceOption, label string) {
	e.mu.Lock()
	player := e.session.PlayerName
	char := e.session.CharacterName
	content := ""
	if opt.PlayerResponse != "" {
		content = e.session.SubstituteChoice(opt.PlayerResponse, label)
	}
	e.mu.Unlock()

	generated := false
	switch {
	case opt.GenerateResponse && e.gen != nil:
		out, err := e.gen.Generate(ctx, llm.Request{
			System: "You are " + player + " in a roleplay with " + char +
				". Write one short first-person message committing to the choice you just made. Stay in character.",
			Prompt: "You chose: " + label,
		})
		if err != nil {
			e.reportError(ctx, &EngineError{Code: ErrCodeLLM, Message: err.Error()}, "choice response")
		} else {
			content = strings.TrimSpace(out)
			generated = true
		}

	case opt.EnhanceResponse && content != "" && e.gen != nil:
		out, err := e.gen.Generate(ctx, llm.Request{
			System: "Rewrite the player's message in " + player + "'s voice. Keep the meaning, one message only.",
			Prompt: content,
		})
		if err != nil {
			e.reportError(ctx, &EngineError{Code: ErrCodeLLM, Message: err.Error()}, "choice response")
		} else {
			content = strings.TrimSpace(out)
			generated = true
		}
	}

	if content == "" || e.epoch.Load() != epoch {
		return
	}

	e.send(ctx, broadcast.Envelope{Type: broadcast.TypeChatMessage, Payload: broadcast.ChatMessage{
		ID:         e.idGen.Generate(),
		Content:    content,
		Sender:     player,
		Timestamp:  e.sched.Now(),
		Generated:  generated,
		FromChoice: true,
	}})
}

// HandleChallengeResult delivers the UI's challenge outcome. outputID routes
// the continuation edge; details carries the outcome variables (segment,
// roll, slots, ...).
func (e *Engine) HandleChallengeResult(nodeID, outputID string, details map[string]string) bool {
	return e.post("challenge:"+nodeID, func() {
		e.resolveChallenge(nodeID, outputID, details)
	})
}

func (e *Engine) resolveChallenge(nodeID, outputID string, details map[string]string) {
	e.mu.Lock()
	p, ok := e.pendingChallenges[nodeID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pendingChallenges, nodeID)
	af := e.flows[p.FlowID]
	for k, v := range details {
		e.session.ChallengeVars[strings.ToLower(k)] = v
	}
	e.session.LastChallengeResult = outputID
	var priority *int
	var notify bool
	if ex := e.executions[p.FlowID]; ex != nil {
		priority = ex.Priority
		notify = ex.Notify
	}
	e.mu.Unlock()

	if af == nil {
		return
	}
	n := af.Flow.Node(nodeID)
	cfg := p.Config

	e.enterBusy()
	c := &chain{e: e, af: af, epoch: e.epoch.Load(), priority: priority, notify: notify}
	go func() {
		defer e.exitBusy()
		ctx := context.Background()

		if err := c.sendChallengeMessages(ctx, n, cfg, outputID); err != nil {
			if !errors.Is(err, errAborted) {
				slog.Warn("challenge messages failed", "flow", af.Flow.ID, "error", err)
			}
			return
		}
		if n != nil {
			if err := c.postWrapper(ctx, n); err != nil {
				return
			}
		}
		for _, edge := range af.Flow.EdgesFromHandle(nodeID, outputID) {
			if err := c.run(ctx, edge.Target, true); err != nil {
				return
			}
		}
		c.finalizeIfQuiescent(ctx)
	}()
}

// sendChallengeMessages emits the win/lose/result messages configured on
// the challenge.
func (c *chain) sendChallengeMessages(ctx context.Context, n *flow.Node, cfg *flow.ChallengeConfig, outputID string) error {
	if cfg == nil || n == nil {
		return nil
	}
	if outputID == "win" && cfg.WinMessage != "" {
		if err := c.sendFlowMessage(ctx, n, "character", cfg.WinMessage, cfg.MessagesSuppressLlm, nil); err != nil {
			return err
		}
	}
	if outputID == "lose" && cfg.LoseMessage != "" {
		if err := c.sendFlowMessage(ctx, n, "character", cfg.LoseMessage, cfg.MessagesSuppressLlm, nil); err != nil {
			return err
		}
	}
	if cfg.ResultMessage != "" {
		if err := c.sendFlowMessage(ctx, n, "character", cfg.ResultMessage, cfg.MessagesSuppressLlm, nil); err != nil {
			return err
		}
	}
	return nil
}

// HandleInputResponse delivers the typed value for a pending input node.
func (e *Engine) HandleInputResponse(nodeID, value string) bool {
	return e.post("input:"+nodeID, func() {
		e.resolveInput(nodeID, value)
	})
}

func (e *Engine) resolveInput(nodeID, value string) {
	e.mu.Lock()
	p, ok := e.pendingInputs[nodeID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pendingInputs, nodeID)
	af := e.flows[p.FlowID]
	e.session.FlowVariables[p.VariableName] = value
	e.mu.Unlock()

	if af == nil {
		return
	}
	e.resumeChain(af, nodeID, "")
}

// checkPendingPauses decrements every pause countdown by one message and
// resumes the ones that reach zero. Runs before trigger matching on the
// same speech event.
func (e *Engine) checkPendingPauses() {
	e.mu.Lock()
	type done struct {
		af     *flow.ActiveFlow
		nodeID string
	}
	var completed []done
	for key, p := range e.pendingPauses {
		p.MessagesRemaining--
		if p.MessagesRemaining > 0 {
			continue
		}
		delete(e.pendingPauses, key)
		if af := e.flows[p.FlowID]; af != nil {
			completed = append(completed, done{af: af, nodeID: p.NodeID})
		}
	}
	e.mu.Unlock()

	for _, d := range completed {
		e.resumeChain(d.af, d.nodeID, flow.HandleSourceResume)
	}
}
