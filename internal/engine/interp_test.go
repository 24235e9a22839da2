package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/flow"
	"github.com/loom-app/loom/internal/testutil"
)

func TestConditionRoutesFirstMatch(t *testing.T) {
	af := testutil.NewFlow("cond", "Cond").
		Node(testutil.SpeechTrigger("t1", "check")).
		Node(flow.Node{ID: "c1", Type: flow.NodeCondition, Condition: &flow.ConditionConfig{
			Conditions: []flow.SubCondition{
				{Type: "capacity", Operator: flow.OpGreaterEqual, Value: 90},
				{Type: "capacity", Operator: flow.OpGreaterEqual, Value: 50},
			},
		}}).
		Node(testutil.MessageAction("a1", "nearly full")).
		Node(testutil.MessageAction("a2", "half way")).
		Node(testutil.MessageAction("a3", "barely anything")).
		Edge("t1", "c1", "").
		Edge("c1", "a1", "true-0").
		Edge("c1", "a2", "true-1").
		Edge("c1", "a3", flow.HandleFalse).
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.eng.SetPlayerState("capacity", 60, "")
	f.eng.WaitIdle()
	f.speak("check")

	assert.Equal(t, []string{"half way"}, f.aiMessages())
}

func TestConditionFalsePath(t *testing.T) {
	af := testutil.NewFlow("cond", "Cond").
		Node(testutil.SpeechTrigger("t1", "check")).
		Node(flow.Node{ID: "c1", Type: flow.NodeCondition, Condition: &flow.ConditionConfig{
			Conditions: []flow.SubCondition{
				{Type: "pain", Operator: flow.OpGreater, Value: 5},
			},
		}}).
		Node(testutil.MessageAction("a1", "that hurts")).
		Node(testutil.MessageAction("a2", "all fine")).
		Edge("t1", "c1", "").
		Edge("c1", "a1", "true-0").
		Edge("c1", "a2", flow.HandleFalse).
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("check")

	assert.Equal(t, []string{"all fine"}, f.aiMessages())
}

func TestConditionOnlyOnceConsumed(t *testing.T) {
	trig := testutil.SpeechTrigger("t1", "check")
	trig.Trigger.FireOnlyOnce = testutil.BoolPtr(false)
	trig.Trigger.Cooldown = testutil.IntPtr(0)
	af := testutil.NewFlow("cond", "Cond").
		Node(trig).
		Node(flow.Node{ID: "c1", Type: flow.NodeCondition, Condition: &flow.ConditionConfig{
			Conditions: []flow.SubCondition{
				{Type: "emotion", Operator: flow.OpEqual, TextValue: "neutral", OnlyOnce: true},
			},
		}}).
		Node(testutil.MessageAction("a1", "first time only")).
		Node(testutil.MessageAction("a2", "every other time")).
		Edge("t1", "c1", "").
		Edge("c1", "a1", "true-0").
		Edge("c1", "a2", flow.HandleFalse).
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("check")
	f.speak("check")

	assert.Equal(t, []string{"first time only", "every other time"}, f.aiMessages())
}

func TestSequentialBranchTakesFirstOutput(t *testing.T) {
	af := testutil.NewFlow("br", "Branch").
		Node(testutil.SpeechTrigger("t1", "go")).
		Node(flow.Node{ID: "b1", Type: flow.NodeBranch, Branch: &flow.BranchConfig{Mode: "sequential"}}).
		Node(testutil.MessageAction("a1", "path zero")).
		Edge("t1", "b1", "").
		Edge("b1", "a1", "branch-0").
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("go")

	assert.Equal(t, []string{"path zero"}, f.aiMessages())
}

func TestRandomBranchHonorsZeroWeight(t *testing.T) {
	af := testutil.NewFlow("br", "Branch").
		Node(testutil.SpeechTrigger("t1", "go")).
		Node(flow.Node{ID: "b1", Type: flow.NodeBranch, Branch: &flow.BranchConfig{
			Mode:    "random",
			Weights: []float64{0, 1},
		}}).
		Node(testutil.MessageAction("a1", "never")).
		Node(testutil.MessageAction("a2", "always")).
		Edge("t1", "b1", "").
		Edge("b1", "a1", "branch-0").
		Edge("b1", "a2", "branch-1").
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("go")

	assert.Equal(t, []string{"always"}, f.aiMessages())
}

func TestRandomNumberFeedsSubstitution(t *testing.T) {
	af := testutil.NewFlow("rng", "Rng").
		Node(testutil.SpeechTrigger("t1", "roll")).
		Node(flow.Node{ID: "r1", Type: flow.NodeRandomNumber, Random: &flow.RandomNumberConfig{
			Min: 4, Max: 4, VariableName: "roll",
		}}).
		Node(testutil.MessageAction("a1", "rolled [Flow:roll]")).
		Edge("t1", "r1", "").
		Edge("r1", "a1", "").
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("roll")

	assert.Equal(t, []string{"rolled 4"}, f.aiMessages())
}

func TestSetVariableAndSubstitution(t *testing.T) {
	af := testutil.NewFlow("vars", "Vars").
		Node(testutil.SpeechTrigger("t1", "intro")).
		Node(flow.Node{ID: "v1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType:    flow.ActionSetVariable,
			VariableName:  "mood",
			VariableValue: "mischievous",
		}}).
		Node(testutil.MessageAction("a1", "[Char] watches [Player] with a {mood} smile")).
		Edge("t1", "v1", "").
		Edge("v1", "a1", "").
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)
	f.eng.SetIdentities("Sam", "Nyx", "")

	f.speak("intro")

	assert.Equal(t, []string{"Nyx watches Sam with a mischievous smile"}, f.aiMessages())
}

func TestSetCapacityScopeBroadcastsUpdate(t *testing.T) {
	af := testutil.NewFlow("cap", "Cap").
		Node(testutil.SpeechTrigger("t1", "fill")).
		Node(flow.Node{ID: "v1", Type: flow.NodeAction, Action: &flow.ActionConfig{
			ActionType:    flow.ActionSetVariable,
			VariableScope: "capacity",
			VariableValue: "120",
		}}).
		Edge("t1", "v1", "").
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("fill")

	ups := f.rec.OfType(broadcast.TypeCapacityUpdate)
	require.Len(t, ups, 1)
	assert.Equal(t, 100, ups[0].Payload.(broadcast.CapacityUpdate).Capacity, "capacity clamps to 100")
}

func TestCapacityMessagePicksRange(t *testing.T) {
	af := testutil.NewFlow("capmsg", "CapMsg").
		Node(testutil.SpeechTrigger("t1", "status")).
		Node(flow.Node{ID: "m1", Type: flow.NodeCapacityAIMessage, CapacityMsg: &flow.CapacityMessageConfig{
			SuppressLlm: true,
			Messages: []flow.RangeMessage{
				{RangeID: "0-50", Text: "plenty of room"},
				{RangeID: "51-100", Text: "getting tight"},
			},
		}}).
		Node(testutil.MessageAction("a1", "tight follow-up")).
		Edge("t1", "m1", "").
		Edge("m1", "a1", "51-100").
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.eng.SetPlayerState("capacity", 70, "")
	f.eng.WaitIdle()
	f.speak("status")

	assert.Equal(t, []string{"getting tight", "tight follow-up"}, f.aiMessages())
}

func TestWrapperPreAndPostMessages(t *testing.T) {
	act := testutil.MessageAction("a1", "the deed")
	act.Wrapper = &flow.WrapperConfig{
		PreMessage:             "brace yourself",
		PreMessageSuppressLlm:  true,
		PostMessage:            "all done",
		PostMessageSuppressLlm: true,
	}
	af := testutil.NewFlow("wrap", "Wrap").
		Node(testutil.SpeechTrigger("t1", "do it")).
		Node(act).
		Edge("t1", "a1", "").
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("do it")

	assert.Equal(t, []string{"brace yourself", "the deed", "all done"}, f.aiMessages())
}

func TestVisitCapStopsRunawayCycle(t *testing.T) {
	loopA := testutil.MessageAction("a1", "around")
	af := testutil.NewFlow("loop", "Loop").
		Node(testutil.SpeechTrigger("t1", "loop")).
		Node(loopA).
		Node(testutil.MessageAction("a2", "and again")).
		Edge("t1", "a1", "").
		Edge("a1", "a2", "").
		Edge("a2", "a1", "").
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("loop")

	errs := f.rec.OfType(broadcast.TypeError)
	require.Len(t, errs, 1, "visit cap reports once and stops")
	assert.LessOrEqual(t, len(f.aiMessages()), 257)
}
