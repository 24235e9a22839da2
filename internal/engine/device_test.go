package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/engine"
	"github.com/loom-app/loom/internal/flow"
	"github.com/loom-app/loom/internal/testutil"
)

func pumpCatalog() *device.Catalog {
	return device.NewCatalog([]device.Device{
		{ID: "p1", Name: "Pump", IP: "10.0.0.5", Brand: "kasa", DeviceType: "pump", IsPrimaryPump: true},
		{ID: "v1", Name: "Vibe", IP: "10.0.0.6", Brand: "kasa", DeviceType: "vibe", IsPrimaryVibe: true},
	})
}

func ops(calls []device.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op + " " + c.Key
	}
	return out
}

func TestCycleImmediateAndCompletionEdges(t *testing.T) {
	af := testutil.NewFlow("cycle", "Cycle").
		Node(testutil.SpeechTrigger("t1", "begin")).
		Node(flow.Node{ID: "c1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType: flow.ActionStartCycle,
			Device:     "primary_vibe",
			Duration:   2,
			Interval:   1,
			Cycles:     3,
		}}).
		Node(testutil.MessageAction("a1", "started")).
		Node(testutil.MessageAction("a2", "finished")).
		Edge("t1", "c1", "").
		Edge("c1", "a1", flow.HandleImmediate).
		Edge("c1", "a2", flow.HandleCompletion).
		Build(flow.TierGlobal)

	f := start(t, pumpCatalog(), af)

	f.speak("begin")

	assert.Equal(t, []string{"started"}, f.aiMessages())
	calls := f.drv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "cycle_start", calls[0].Op)
	assert.Equal(t, 2*time.Second, calls[0].Duration)
	assert.Equal(t, 3, calls[0].Cycles)

	f.eng.HandleCycleComplete("10.0.0.6")
	f.eng.WaitIdle()

	assert.Equal(t, []string{"started", "finished"}, f.aiMessages())
}

func TestInfiniteCycleBroadcastsStartAndEnd(t *testing.T) {
	af := testutil.NewFlow("inf", "Infinite").
		Node(testutil.SpeechTrigger("t1", "spin")).
		Node(flow.Node{ID: "c1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType: flow.ActionStartCycle,
			Device:     "primary_vibe",
			Duration:   2,
			Cycles:     0,
		}}).
		Edge("t1", "c1", "").
		Build(flow.TierGlobal)

	f := start(t, pumpCatalog(), af)

	f.speak("spin")
	assert.Len(t, f.rec.OfType(broadcast.TypeInfCycleStart), 1)

	f.eng.HandleCycleComplete("10.0.0.6")
	f.eng.WaitIdle()
	assert.Len(t, f.rec.OfType(broadcast.TypeInfCycleEnd), 1)
}

func TestDeviceOnUntilCapacityMonitor(t *testing.T) {
	af := testutil.NewFlow("inflate", "Inflate").
		Node(testutil.SpeechTrigger("t1", "inflate")).
		Node(flow.Node{ID: "a1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType: flow.ActionDeviceOn,
			Device:     "primary_pump",
			Until: &flow.UntilConfig{
				Type:     flow.UntilCapacity,
				Operator: flow.OpGreaterEqual,
				Value:    80,
			},
		}}).
		Node(testutil.MessageAction("a2", "inflating")).
		Node(testutil.MessageAction("a3", "full")).
		Edge("t1", "a1", "").
		Edge("a1", "a2", flow.HandleImmediate).
		Edge("a1", "a3", flow.HandleCompletion).
		Build(flow.TierGlobal)

	f := start(t, pumpCatalog(), af)

	f.speak("inflate")
	assert.Equal(t, []string{"inflating"}, f.aiMessages())
	assert.Equal(t, []string{"on 10.0.0.5"}, ops(f.drv.Calls()))

	f.eng.SetPlayerState("capacity", 50, "")
	f.eng.WaitIdle()
	assert.Equal(t, []string{"inflating"}, f.aiMessages(), "below threshold, monitor holds")

	f.eng.SetPlayerState("capacity", 85, "")
	f.eng.WaitIdle()

	assert.Equal(t, []string{"inflating", "full"}, f.aiMessages())
	assert.Equal(t, []string{"on 10.0.0.5", "off 10.0.0.5"}, ops(f.drv.Calls()))
}

func TestUntilTimerMonitorFiresOnSchedule(t *testing.T) {
	af := testutil.NewFlow("timed", "Timed").
		Node(testutil.SpeechTrigger("t1", "buzz")).
		Node(flow.Node{ID: "a1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType: flow.ActionDeviceOn,
			Device:     "primary_vibe",
			Until: &flow.UntilConfig{
				Type:    flow.UntilTimer,
				Seconds: 30,
			},
		}}).
		Node(testutil.MessageAction("a2", "buzz over")).
		Edge("t1", "a1", "").
		Edge("a1", "a2", flow.HandleCompletion).
		Build(flow.TierGlobal)

	f := start(t, pumpCatalog(), af)

	f.speak("buzz")
	assert.Empty(t, f.aiMessages())

	f.sched.Advance(30 * time.Second)
	f.eng.WaitIdle()

	assert.Equal(t, []string{"buzz over"}, f.aiMessages())
	assert.Equal(t, []string{"on 10.0.0.6", "off 10.0.0.6"}, ops(f.drv.Calls()))
}

func TestPumpSafetyBlockAtFullCapacity(t *testing.T) {
	af := testutil.NewFlow("inflate", "Inflate").
		Node(testutil.SpeechTrigger("t1", "inflate")).
		Node(flow.Node{ID: "a1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType: flow.ActionDeviceOn,
			Device:     "primary_pump",
		}}).
		Node(testutil.MessageAction("a2", "on it")).
		Edge("t1", "a1", "").
		Edge("a1", "a2", flow.HandleImmediate).
		Build(flow.TierGlobal)

	f := start(t, pumpCatalog(), af)

	f.eng.SetPlayerState("capacity", 100, "")
	f.eng.WaitIdle()

	f.speak("inflate")

	assert.Len(t, f.rec.OfType(broadcast.TypePumpSafetyBlock), 1)
	assert.Empty(t, f.drv.Calls(), "blocked pump must not be actuated")
	assert.Equal(t, []string{"on it"}, f.aiMessages(), "immediate edge still runs")
}

func TestDeviceOffResumesPendingOnPath(t *testing.T) {
	af := testutil.NewFlow("watch", "Watch").
		Node(testutil.SpeechTrigger("t1", "watch")).
		Node(flow.Node{ID: "a1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType: flow.ActionDeviceOn,
			Device:     "primary_vibe",
		}}).
		Node(testutil.MessageAction("a2", "it stopped")).
		Edge("t1", "a1", "").
		Edge("a1", "a2", flow.HandleCompletion).
		Build(flow.TierGlobal)

	f := start(t, pumpCatalog(), af)

	f.speak("watch")
	assert.Empty(t, f.aiMessages())

	f.eng.HandleEvent(engine.Event{Type: engine.EventDeviceOff, Data: engine.EventData{DeviceKey: "10.0.0.6"}})
	f.eng.WaitIdle()

	assert.Equal(t, []string{"it stopped"}, f.aiMessages())
}

func TestDeviceOnTriggerWithFilter(t *testing.T) {
	trig := flow.Node{
		ID:   "t1",
		Type: flow.NodeTrigger,
		Trigger: &flow.TriggerConfig{
			TriggerType:  flow.TriggerDeviceOn,
			DeviceFilter: "Vibe",
		},
	}
	af := testutil.NewFlow("react", "React").
		Node(trig).
		Node(testutil.MessageAction("a1", "I felt that")).
		Edge("t1", "a1", "").
		Build(flow.TierGlobal)

	f := start(t, pumpCatalog(), af)

	f.eng.HandleEvent(engine.Event{Type: engine.EventDeviceOn, Data: engine.EventData{DeviceKey: "10.0.0.5"}})
	f.eng.WaitIdle()
	assert.Empty(t, f.aiMessages(), "pump event must not match the vibe filter")

	f.eng.HandleEvent(engine.Event{Type: engine.EventDeviceOn, Data: engine.EventData{DeviceKey: "10.0.0.6"}})
	f.eng.WaitIdle()
	assert.Equal(t, []string{"I felt that"}, f.aiMessages())
}

func TestStopCycleFallsBackToTurnOff(t *testing.T) {
	af := testutil.NewFlow("stopper", "Stopper").
		Node(testutil.SpeechTrigger("t1", "stop")).
		Node(flow.Node{ID: "a1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType: flow.ActionStopCycle,
			Device:     "primary_vibe",
		}}).
		Edge("t1", "a1", "").
		Build(flow.TierGlobal)

	f := start(t, pumpCatalog(), af)

	f.speak("stop")

	// Nothing was cycling: the driver reports no active cycle and the engine
	// turns the device off outright.
	assert.Equal(t, []string{"cycle_stop 10.0.0.6", "off 10.0.0.6"}, ops(f.drv.Calls()))
}

func TestDeviceErrorContinuesOnDefaultEdge(t *testing.T) {
	af := testutil.NewFlow("ghost", "Ghost").
		Node(testutil.SpeechTrigger("t1", "inflate")).
		Node(flow.Node{ID: "d1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType: flow.ActionDeviceOn,
			Device:     "no-such-device",
		}}).
		Node(testutil.MessageAction("a1", "carrying on")).
		Edge("t1", "d1", "").
		Edge("d1", "a1", "").
		Build(flow.TierGlobal)

	f := start(t, pumpCatalog(), af)

	f.speak("inflate")

	require.Len(t, f.rec.OfType(broadcast.TypeError), 1)
	assert.Equal(t, []string{"carrying on"}, f.aiMessages(), "default edge still runs after the failure")
	assert.Empty(t, f.drv.Calls())
}

func TestActionFailureRoutesAuthoredFalseEdge(t *testing.T) {
	af := testutil.NewFlow("ghost", "Ghost").
		Node(testutil.SpeechTrigger("t1", "inflate")).
		Node(flow.Node{ID: "d1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType: flow.ActionDeviceOn,
			Device:     "no-such-device",
		}}).
		Node(testutil.MessageAction("a1", "fallback")).
		Node(testutil.MessageAction("a2", "normal")).
		Edge("d1", "a1", flow.HandleFalse).
		Edge("t1", "d1", "").
		Edge("d1", "a2", "").
		Build(flow.TierGlobal)

	f := start(t, pumpCatalog(), af)

	f.speak("inflate")

	assert.Equal(t, []string{"fallback"}, f.aiMessages(), "an authored false edge takes the failure")
}

func TestStartCycleFailureStopsSegment(t *testing.T) {
	af := testutil.NewFlow("cycle", "Cycle").
		Node(testutil.SpeechTrigger("t1", "begin")).
		Node(flow.Node{ID: "c1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType: flow.ActionStartCycle,
			Device:     "primary_vibe",
			Duration:   2,
			Cycles:     3,
		}}).
		Node(testutil.MessageAction("a1", "started")).
		Edge("t1", "c1", "").
		Edge("c1", "a1", flow.HandleImmediate).
		Build(flow.TierGlobal)

	f := start(t, pumpCatalog(), af)
	f.drv.Fail = errors.New("bridge offline")

	f.speak("begin")

	require.Len(t, f.rec.OfType(broadcast.TypeError), 1)
	assert.Empty(t, f.aiMessages(), "a cycle that never started has no completion path")
}
