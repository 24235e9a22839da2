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

func choiceFlow() *flow.ActiveFlow {
	return testutil.NewFlow("pick", "Pick").
		Node(testutil.SpeechTrigger("t1", "choose")).
		Node(flow.Node{ID: "ch", Type: flow.NodePlayerChoice, Choice: &flow.ChoiceConfig{
			Description:  "Pick a door",
			IntroMessage: "Your options:\n[Choices]",
			Choices: []flow.ChoiceOption{
				{ID: "left", Label: "Left door"},
				{ID: "right", Label: "Right door", PlayerResponse: "I take the [Choice].", PlayerResponseSuppressLlm: true},
			},
		}}).
		Node(testutil.MessageAction("a1", "you went left")).
		Node(testutil.MessageAction("a2", "you went right")).
		Edge("t1", "ch", "").
		Edge("ch", "a1", "left").
		Edge("ch", "a2", "right").
		Build(flow.TierGlobal)
}

func TestPlayerChoiceRoutesChosenEdge(t *testing.T) {
	f := start(t, device.NewCatalog(nil), choiceFlow())

	f.speak("choose")

	reqs := f.rec.OfType(broadcast.TypePlayerChoice)
	require.Len(t, reqs, 1)
	req := reqs[0].Payload.(broadcast.PlayerChoice)
	assert.Equal(t, "ch", req.NodeID)
	require.Len(t, req.Choices, 2)
	assert.Equal(t, "left", req.Choices[0].ID)

	intro := f.aiMessages()
	require.Len(t, intro, 1)
	assert.Contains(t, intro[0], "1. Left door")
	assert.Contains(t, intro[0], "2. Right door")

	f.eng.HandlePlayerChoice("ch", "left", "")
	f.eng.WaitIdle()

	assert.Equal(t, []string{intro[0], "you went left"}, f.aiMessages())
}

func TestPlayerChoiceResponseSubstitutesLabel(t *testing.T) {
	f := start(t, device.NewCatalog(nil), choiceFlow())

	f.speak("choose")
	f.eng.HandlePlayerChoice("ch", "right", "")
	f.eng.WaitIdle()

	chats := f.rec.OfType(broadcast.TypeChatMessage)
	require.Len(t, chats, 1)
	msg := chats[0].Payload.(broadcast.ChatMessage)
	assert.Equal(t, "I take the Right door.", msg.Content)
	assert.Equal(t, "Player", msg.Sender)
	assert.True(t, msg.FromChoice)
}

func TestUnknownChoiceIDIsIgnored(t *testing.T) {
	f := start(t, device.NewCatalog(nil), choiceFlow())

	f.speak("choose")
	before := len(f.rec.Envelopes())

	f.eng.HandlePlayerChoice("no-such-node", "left", "")
	f.eng.WaitIdle()

	assert.Len(t, f.rec.Envelopes(), before, "a stale choice resolves to nothing")
}

func TestSimpleABRoutesByFixedIDs(t *testing.T) {
	af := testutil.NewFlow("ab", "AB").
		Node(testutil.SpeechTrigger("t1", "decide")).
		Node(flow.Node{ID: "s1", Type: flow.NodeSimpleAB, SimpleAB: &flow.SimpleABConfig{
			LabelA: "Mercy",
			LabelB: "No mercy",
		}}).
		Node(testutil.MessageAction("a1", "mercy it is")).
		Node(testutil.MessageAction("a2", "no mercy then")).
		Edge("t1", "s1", "").
		Edge("s1", "a1", "a").
		Edge("s1", "a2", "b").
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("decide")
	require.Len(t, f.rec.OfType(broadcast.TypeSimpleAB), 1)

	f.eng.HandlePlayerChoice("s1", "b", "")
	f.eng.WaitIdle()

	assert.Equal(t, []string{"no mercy then"}, f.aiMessages())
	assert.Empty(t, f.rec.OfType(broadcast.TypeChatMessage), "simple_ab never speaks for the player")
}

func TestInputStoresVariableAndResumes(t *testing.T) {
	af := testutil.NewFlow("ask", "Ask").
		Node(testutil.SpeechTrigger("t1", "ask")).
		Node(flow.Node{ID: "i1", Type: flow.NodeInput, Input: &flow.InputConfig{
			Prompt:       "How many?",
			InputType:    "number",
			VariableName: "count",
		}}).
		Node(testutil.MessageAction("a1", "you said [Flow:count]")).
		Edge("t1", "i1", "").
		Edge("i1", "a1", "").
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("ask")
	reqs := f.rec.OfType(broadcast.TypeInputRequest)
	require.Len(t, reqs, 1)
	assert.Equal(t, "count", reqs[0].Payload.(broadcast.InputRequest).VariableName)

	f.eng.HandleInputResponse("i1", "7")
	f.eng.WaitIdle()

	assert.Equal(t, []string{"you said 7"}, f.aiMessages())
}

func TestChallengeResultRoutesAndStoresVars(t *testing.T) {
	af := testutil.NewFlow("wheel", "Wheel").
		Node(testutil.SpeechTrigger("t1", "spin")).
		Node(flow.Node{ID: "w1", Type: flow.NodePrizeWheel, Challenge: &flow.ChallengeConfig{
			Outcomes:   []string{"win", "lose"},
			WinMessage: "You landed on [Segment]!",
		}}).
		Node(testutil.MessageAction("a1", "prize time")).
		Node(testutil.MessageAction("a2", "better luck")).
		Edge("t1", "w1", "").
		Edge("w1", "a1", "win").
		Edge("w1", "a2", "lose").
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("spin")
	reqs := f.rec.OfType(broadcast.TypeChallenge)
	require.Len(t, reqs, 1)
	assert.Equal(t, "prize_wheel", reqs[0].Payload.(broadcast.Challenge).ChallengeType)

	f.eng.HandleChallengeResult("w1", "win", map[string]string{"Segment": "gold"})
	f.eng.WaitIdle()

	assert.Equal(t, []string{"You landed on gold!", "prize time"}, f.aiMessages())
}

func TestPauseResumeAfterTwoMessages(t *testing.T) {
	af := testutil.NewFlow("nap", "Nap").
		Node(testutil.SpeechTrigger("t1", "nap")).
		Node(testutil.MessageAction("a1", "pausing now")).
		Node(flow.Node{ID: "p1", Type: flow.NodePauseResume, Pause: &flow.PauseResumeConfig{
			ResumeAfterValue: 2,
			ResumeAfterType:  "messages",
		}}).
		Node(testutil.MessageAction("a2", "back again")).
		Edge("t1", "a1", "").
		Edge("a1", "p1", "").
		Edge("p1", "a2", flow.HandleSourceResume).
		Build(flow.TierGlobal)

	f := start(t, device.NewCatalog(nil), af)

	f.speak("nap")
	assert.Equal(t, []string{"pausing now"}, f.aiMessages())

	f.speak("one")
	assert.Equal(t, []string{"pausing now"}, f.aiMessages(), "countdown not yet complete")

	f.speak("two")
	assert.Equal(t, []string{"pausing now", "back again"}, f.aiMessages())
}
