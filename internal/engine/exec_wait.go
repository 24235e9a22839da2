package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/flow"
)

func (c *chain) execCondition(n *flow.Node) (stepResult, error) {
	cfg := n.Condition
	if cfg == nil {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "condition node without config")
	}

	c.e.mu.Lock()
	st := c.e.states[c.af.Flow.ID]
	var once map[string]bool
	if st != nil {
		once = st.onceConds
	}
	idx, consumed := c.e.session.evalCondition(cfg, n.ID, once)
	if consumed != "" && st != nil {
		st.onceConds[consumed] = true
	}
	c.e.mu.Unlock()

	if idx < 0 {
		return follow(flow.HandleFalse), nil
	}
	return follow(fmt.Sprintf("true-%d", idx)), nil
}

func (c *chain) execBranch(n *flow.Node) (stepResult, error) {
	cfg := n.Branch
	if cfg == nil {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "branch node without config")
	}

	if cfg.Mode != "random" {
		return follow("branch-0"), nil
	}

	count := cfg.Count
	if count == 0 {
		count = len(cfg.Weights)
	}
	if count == 0 {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "random branch without outputs")
	}

	c.e.mu.Lock()
	idx := pickWeighted(c.e.rng.Float64, cfg.Weights, count)
	c.e.mu.Unlock()
	return follow(fmt.Sprintf("branch-%d", idx)), nil
}

// pickWeighted draws an index over the weights; a non-positive total falls
// back to a uniform draw over count.
func pickWeighted(draw func() float64, weights []float64, count int) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return int(draw() * float64(count))
	}
	r := draw() * total
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		r -= w
		if r < 0 {
			return i
		}
	}
	return len(weights) - 1
}

func (c *chain) execDelay(ctx context.Context, n *flow.Node) (stepResult, error) {
	cfg := n.Delay
	if cfg == nil {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "delay node without config")
	}
	v, err := c.resolveNumber(cfg.Duration)
	if err != nil {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "delay duration "+err.Error())
	}
	d := secondsToDuration(v)
	if strings.EqualFold(cfg.Unit, "minutes") {
		d = time.Duration(v * float64(time.Minute))
	}
	if err := c.sleep(ctx, d); err != nil {
		return followDefault, err
	}
	return followDefault, nil
}

func (c *chain) execPlayerChoice(ctx context.Context, n *flow.Node) (stepResult, error) {
	cfg := n.Choice
	if cfg == nil || len(cfg.Choices) == 0 {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "player_choice without choices")
	}

	labels := make([]string, len(cfg.Choices))
	items := make([]broadcast.ChoiceItem, len(cfg.Choices))
	for i, ch := range cfg.Choices {
		labels[i] = ch.Label
		items[i] = broadcast.ChoiceItem{ID: ch.ID, Label: ch.Label}
	}

	if cfg.IntroMessage != "" {
		c.e.mu.Lock()
		intro := c.e.session.substituteChoices(cfg.IntroMessage, labels)
		sender := c.e.session.CharacterName
		c.e.mu.Unlock()
		c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypeAIMessage, Payload: broadcast.FlowMessage{
			Content:     intro,
			Sender:      sender,
			SuppressLlm: cfg.IntroSuppressLlm,
			FlowID:      c.af.Flow.ID,
			NodeID:      n.ID,
		}})
		if c.aborted() {
			return followDefault, errAborted
		}
	}
	if cfg.AIPrompt != "" {
		if err := c.sendFlowMessage(ctx, n, "character", cfg.AIPrompt, false, nil); err != nil {
			return followDefault, err
		}
	}

	c.e.mu.Lock()
	c.e.pendingChoices[n.ID] = pendingChoice{
		FlowID:  c.af.Flow.ID,
		NodeID:  n.ID,
		Choices: cfg.Choices,
	}
	c.e.mu.Unlock()
	c.e.markWaiting(ctx, c.af.Flow.ID)

	c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypePlayerChoice, Payload: broadcast.PlayerChoice{
		NodeID:      n.ID,
		Description: c.substitute(cfg.Description),
		Choices:     items,
	}})
	if c.aborted() {
		return followDefault, errAborted
	}
	return followNone, nil
}

func (c *chain) execSimpleAB(ctx context.Context, n *flow.Node) (stepResult, error) {
	cfg := n.SimpleAB
	if cfg == nil {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "simple_ab node without config")
	}

	c.e.mu.Lock()
	c.e.pendingChoices[n.ID] = pendingChoice{
		FlowID: c.af.Flow.ID,
		NodeID: n.ID,
		Choices: []flow.ChoiceOption{
			{ID: "a", Label: cfg.LabelA},
			{ID: "b", Label: cfg.LabelB},
		},
		IsSimpleAB: true,
	}
	c.e.mu.Unlock()
	c.e.markWaiting(ctx, c.af.Flow.ID)

	c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypeSimpleAB, Payload: broadcast.SimpleAB{
		NodeID:       n.ID,
		Description:  c.substitute(cfg.Description),
		LabelA:       cfg.LabelA,
		DescriptionA: cfg.DescriptionA,
		LabelB:       cfg.LabelB,
		DescriptionB: cfg.DescriptionB,
	}})
	if c.aborted() {
		return followDefault, errAborted
	}
	return followNone, nil
}

func (c *chain) execInput(ctx context.Context, n *flow.Node) (stepResult, error) {
	cfg := n.Input
	if cfg == nil || cfg.VariableName == "" {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "input node without a variable name")
	}

	c.e.mu.Lock()
	c.e.pendingInputs[n.ID] = pendingInput{
		FlowID:       c.af.Flow.ID,
		NodeID:       n.ID,
		VariableName: cfg.VariableName,
		InputType:    cfg.InputType,
	}
	c.e.mu.Unlock()
	c.e.markWaiting(ctx, c.af.Flow.ID)

	c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypeInputRequest, Payload: broadcast.InputRequest{
		NodeID:       n.ID,
		Prompt:       c.substitute(cfg.Prompt),
		InputType:    cfg.InputType,
		MinValue:     cfg.MinValue,
		MaxValue:     cfg.MaxValue,
		VariableName: cfg.VariableName,
		Required:     cfg.Required,
	}})
	if c.aborted() {
		return followDefault, errAborted
	}
	return followNone, nil
}

func (c *chain) execRandomNumber(n *flow.Node) (stepResult, error) {
	cfg := n.Random
	if cfg == nil || cfg.VariableName == "" {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "random_number without a variable name")
	}
	if cfg.Max < cfg.Min {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "random_number range inverted")
	}

	c.e.mu.Lock()
	v := cfg.Min + c.e.rng.Intn(cfg.Max-cfg.Min+1)
	c.e.session.FlowVariables[cfg.VariableName] = strconv.Itoa(v)
	c.e.mu.Unlock()
	return followDefault, nil
}

func (c *chain) execCapacityMessage(ctx context.Context, n *flow.Node, perspective string) (stepResult, error) {
	cfg := n.CapacityMsg
	if cfg == nil {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "capacity message without config")
	}

	c.e.mu.Lock()
	capacity := c.e.session.Capacity
	c.e.mu.Unlock()

	matched := ""
	text := ""
	for _, m := range cfg.Messages {
		if rangeContains(m.RangeID, capacity) {
			matched = m.RangeID
			text = m.Text
			break
		}
	}
	if matched == "" {
		return stepResult{handles: []string{}, fallback: flow.HandleGlobal}, nil
	}

	target := "character"
	if perspective == "player" {
		target = "player"
	}
	err := c.sendFlowMessage(ctx, n, target, text, cfg.SuppressLlm, func(m *broadcast.FlowMessage) {
		m.IsCapacityMessage = true
		m.ForcePerspective = perspective
	})
	if err != nil {
		return followDefault, err
	}
	return stepResult{handles: []string{matched}, fallback: flow.HandleGlobal}, nil
}

// rangeContains parses a capacity range id ("0-10", "11-20", ">100") and
// tests the value against it.
func rangeContains(rangeID string, v int) bool {
	s := strings.TrimSpace(rangeID)
	if after, ok := strings.CutPrefix(s, ">"); ok {
		bound, err := strconv.Atoi(strings.TrimSpace(after))
		return err == nil && v > bound
	}
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return false
	}
	min, err1 := strconv.Atoi(strings.TrimSpace(lo))
	max, err2 := strconv.Atoi(strings.TrimSpace(hi))
	return err1 == nil && err2 == nil && v >= min && v <= max
}

func (c *chain) execPauseResume(n *flow.Node) (stepResult, error) {
	cfg := n.Pause
	if cfg == nil || cfg.ResumeAfterValue <= 0 {
		return followDefault, newConfigError(c.af.Flow.ID, n.ID, "pause_resume without a resume count")
	}

	key := c.af.Flow.ID + ":" + n.ID
	c.e.mu.Lock()
	c.e.pendingPauses[key] = &pendingPause{
		FlowID:            c.af.Flow.ID,
		NodeID:            n.ID,
		MessagesRemaining: cfg.ResumeAfterValue,
	}
	c.e.mu.Unlock()

	// Pre-pause cleanup runs now; source-resume edges run when the message
	// countdown completes.
	return stepResult{handles: []string{flow.HandleSourcePause}, wait: true}, nil
}

func (c *chain) execChallenge(ctx context.Context, n *flow.Node) (stepResult, error) {
	cfg := n.Challenge
	if cfg == nil {
		cfg = &flow.ChallengeConfig{}
	}

	if err := c.preWrapper(ctx, n, cfg.Outcomes); err != nil {
		return followDefault, err
	}

	c.e.mu.Lock()
	c.e.pendingChallenges[n.ID] = pendingChallenge{
		FlowID:        c.af.Flow.ID,
		NodeID:        n.ID,
		ChallengeType: n.Type.ChallengeType(),
		Config:        cfg,
	}
	c.e.mu.Unlock()
	c.e.markWaiting(ctx, c.af.Flow.ID)

	c.e.send(ctx, broadcast.Envelope{Type: broadcast.TypeChallenge, Payload: broadcast.Challenge{
		NodeID:        n.ID,
		ChallengeType: n.Type.ChallengeType(),
		Params:        cfg.Params,
	}})
	if c.aborted() {
		return followDefault, errAborted
	}
	return followNone, nil
}

// markWaiting flags the flow's execution record and republishes the set.
func (e *Engine) markWaiting(ctx context.Context, flowID string) {
	e.mu.Lock()
	ex := e.executions[flowID]
	if ex != nil {
		ex.Waiting = true
	}
	e.mu.Unlock()
	if ex != nil {
		e.publishExecutions(ctx)
	}
}
