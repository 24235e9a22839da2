package harness

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/engine"
	"github.com/loom-app/loom/internal/flow"
	"github.com/loom-app/loom/internal/llm"
	"github.com/loom-app/loom/internal/schema"
	"github.com/loom-app/loom/internal/testutil"
)

// Result holds everything a scenario run produced.
type Result struct {
	// Envelopes is the complete broadcast trace, in delivery order.
	Envelopes []broadcast.Envelope

	// DeviceCalls is the fake driver's actuation log.
	DeviceCalls []device.Call
}

// Run executes a scenario against a fresh engine. The engine runs with the
// deterministic seams described in the package doc; each step drains to
// quiescence before the next.
func Run(s *Scenario) (*Result, error) {
	catalog := device.NewCatalog(nil)
	if s.Devices != "" {
		var err error
		catalog, err = device.LoadCatalog(s.Devices)
		if err != nil {
			return nil, err
		}
	}

	seed := s.Seed
	if seed == 0 {
		seed = 1
	}

	recorder := broadcast.NewRecorder()
	driver := device.NewFakeDriver()
	sched := testutil.NewManualScheduler(time.Unix(0, 0).UTC())

	eng := engine.New(catalog, driver, recorder, llm.NewScripted(s.LLMResponses...),
		engine.WithScheduler(sched),
		engine.WithTokenGenerator(engine.NewSeqGenerator("exec")),
		engine.WithRandSeed(seed),
	)
	if s.Player != "" || s.Character != "" {
		eng.SetIdentities(s.Player, s.Character, "")
	}

	for _, p := range s.Flows {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if errs := schema.ValidateFlow(data); len(errs) > 0 {
			return nil, fmt.Errorf("%s: %s", p, errs[0].Error())
		}
		f, err := flow.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		eng.ActivateFlow(f, flow.TierGlobal)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	for i, step := range s.Steps {
		if err := applyStep(eng, sched, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		eng.WaitIdle()
	}
	eng.Stop()

	return &Result{
		Envelopes:   recorder.Envelopes(),
		DeviceCalls: driver.Calls(),
	}, nil
}

func applyStep(eng *engine.Engine, sched *testutil.ManualScheduler, step Step) error {
	switch {
	case step.Event != "":
		eng.HandleEvent(engine.Event{
			Type: engine.EventType(step.Event),
			Data: engine.EventData{
				Content:   step.Text,
				DeviceKey: step.DeviceKey,
				FlowID:    step.FlowID,
				ButtonID:  step.ButtonID,
				Label:     step.Label,
			},
		})
	case step.Choice != nil:
		eng.HandlePlayerChoice(step.Choice.Node, step.Choice.ID, step.Choice.Label)
	case step.Challenge != nil:
		eng.HandleChallengeResult(step.Challenge.Node, step.Challenge.Output, step.Challenge.Details)
	case step.Input != nil:
		eng.HandleInputResponse(step.Input.Node, step.Input.Value)
	case step.State != nil:
		eng.SetPlayerState(step.State.Type, step.State.Value, step.State.Text)
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("bad advance %q: %w", step.Advance, err)
		}
		sched.Advance(d)
	case step.Pause != "":
		eng.PauseFlows(step.Pause)
	case step.Resume:
		eng.ResumeFlows()
	case step.EmergencyStop:
		eng.EmergencyStop()
	case step.CycleComplete != "":
		eng.HandleCycleComplete(step.CycleComplete)
	case step.DeviceOnComplete != "":
		eng.HandleDeviceOnComplete(step.DeviceOnComplete)
	default:
		return fmt.Errorf("empty step")
	}
	return nil
}
