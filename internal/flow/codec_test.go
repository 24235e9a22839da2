package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTypedConfigs(t *testing.T) {
	doc := []byte(`{
		"id": "f1",
		"name": "Sample",
		"nodes": [
			{"id": "t1", "type": "trigger", "config": {"triggerType": "player_speaks", "keywords": ["hi"], "hasPriority": true, "priority": 3}},
			{"id": "a1", "type": "action", "label": "Say hi", "config": {"actionType": "send_message", "text": "hello", "suppressLlm": true},
			 "wrapper": {"preMessage": "ahem", "postDelaySeconds": 1.5}},
			{"id": "d1", "type": "delay", "config": {"duration": "5", "unit": "minutes"}}
		],
		"edges": [
			{"source": "t1", "target": "a1"},
			{"source": "a1", "target": "d1", "sourceHandle": "completion"}
		]
	}`)

	f, err := Decode(doc)
	require.NoError(t, err)

	assert.Equal(t, "f1", f.ID)
	assert.Equal(t, "Sample", f.Name)

	trig := f.Node("t1")
	require.NotNil(t, trig.Trigger)
	assert.Equal(t, TriggerPlayerSpeaks, trig.Trigger.TriggerType)
	assert.True(t, trig.Trigger.HasPriority)
	assert.Equal(t, 3, trig.Trigger.Priority)

	act := f.Node("a1")
	require.NotNil(t, act.Action)
	assert.Equal(t, "Say hi", act.Label)
	assert.True(t, act.Action.SuppressLlm)
	require.NotNil(t, act.Wrapper)
	assert.Equal(t, "ahem", act.Wrapper.PreMessage)
	assert.Equal(t, 1.5, act.Wrapper.PostDelaySeconds)

	del := f.Node("d1")
	require.NotNil(t, del.Delay)
	assert.Equal(t, "minutes", del.Delay.Unit)
}

func TestDecodeRejectsUnknownNodeType(t *testing.T) {
	_, err := Decode([]byte(`{"id":"f","name":"F","nodes":[{"id":"x","type":"teleport"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node type")
}

func TestDecodeRejectsDuplicateNodeIDs(t *testing.T) {
	_, err := Decode([]byte(`{"id":"f","name":"F","nodes":[
		{"id":"x","type":"action"},
		{"id":"x","type":"action"}
	]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestDecodeRejectsDanglingEdges(t *testing.T) {
	_, err := Decode([]byte(`{"id":"f","name":"F",
		"nodes":[{"id":"x","type":"action"}],
		"edges":[{"source":"x","target":"ghost"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing target")
}

func TestDecodeRejectsMissingID(t *testing.T) {
	_, err := Decode([]byte(`{"name":"F"}`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"id":"f","name":"F","nodes":[{"type":"action"}]}`))
	require.Error(t, err)
}

func TestDecodeWrapperOnlyOnActionsAndChallenges(t *testing.T) {
	_, err := Decode([]byte(`{"id":"f","name":"F","nodes":[
		{"id":"d","type":"delay","config":{"duration":"1"},"wrapper":{"preMessage":"no"}}
	]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrapper")

	_, err = Decode([]byte(`{"id":"f","name":"F","nodes":[
		{"id":"w","type":"prize_wheel","wrapper":{"preMessage":"yes"}}
	]}`))
	assert.NoError(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := []byte(`{
		"id": "rt",
		"name": "RoundTrip",
		"nodes": [
			{"id": "t1", "type": "trigger", "config": {"triggerType": "idle", "idleSeconds": 30}},
			{"id": "c1", "type": "condition", "config": {"conditions": [
				{"type": "capacity", "operator": ">=", "value": 50}
			]}}
		],
		"edges": [{"source": "t1", "target": "c1"}]
	}`)

	f, err := Decode(doc)
	require.NoError(t, err)

	out, err := Encode(f)
	require.NoError(t, err)

	f2, err := Decode(out)
	require.NoError(t, err)

	assert.Equal(t, f.ID, f2.ID)
	require.NotNil(t, f2.Node("t1").Trigger)
	assert.Equal(t, 30, f2.Node("t1").Trigger.IdleSeconds)
	require.NotNil(t, f2.Node("c1").Condition)
	require.Len(t, f2.Node("c1").Condition.Conditions, 1)
	assert.Equal(t, OpGreaterEqual, f2.Node("c1").Condition.Conditions[0].Operator)
}
