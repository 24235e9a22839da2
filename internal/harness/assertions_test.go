package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/device"
)

func intp(n int) *int { return &n }

func sampleResult() *Result {
	return &Result{
		Envelopes: []broadcast.Envelope{
			{Type: broadcast.TypeExecutionsUpdate, Payload: broadcast.ExecutionsUpdate{}},
			{Type: broadcast.TypeAIMessage, Payload: broadcast.FlowMessage{Content: "pong", Sender: "Character"}},
			{Type: broadcast.TypeExecutionsUpdate, Payload: broadcast.ExecutionsUpdate{}},
		},
		DeviceCalls: []device.Call{
			{Op: "on", Key: "pump"},
			{Op: "off", Key: "pump"},
		},
	}
}

func TestCheckContains(t *testing.T) {
	res := sampleResult()

	s := &Scenario{Assertions: []Assertion{
		{Type: "broadcast_contains", Broadcast: "ai_message", Contains: "pong"},
	}}
	assert.Empty(t, CheckAssertions(s, res))

	s = &Scenario{Assertions: []Assertion{
		{Type: "broadcast_contains", Broadcast: "ai_message", Contains: "absent"},
	}}
	failures := CheckAssertions(s, res)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "absent")
}

func TestCheckOrder(t *testing.T) {
	res := sampleResult()

	s := &Scenario{Assertions: []Assertion{
		{Type: "broadcast_order", Order: []string{"flow_executions_update", "ai_message", "flow_executions_update"}},
	}}
	assert.Empty(t, CheckAssertions(s, res))

	s = &Scenario{Assertions: []Assertion{
		{Type: "broadcast_order", Order: []string{"ai_message", "ai_message"}},
	}}
	failures := CheckAssertions(s, res)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "position 1")
}

func TestCheckCount(t *testing.T) {
	res := sampleResult()

	s := &Scenario{Assertions: []Assertion{
		{Type: "broadcast_count", Broadcast: "flow_executions_update", Count: intp(2)},
	}}
	assert.Empty(t, CheckAssertions(s, res))

	s = &Scenario{Assertions: []Assertion{
		{Type: "broadcast_count", Broadcast: "ai_message", Count: intp(3)},
	}}
	require.Len(t, CheckAssertions(s, res), 1)

	s = &Scenario{Assertions: []Assertion{
		{Type: "broadcast_count", Broadcast: "ai_message"},
	}}
	failures := CheckAssertions(s, res)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "needs count")
}

func TestCheckDeviceCalls(t *testing.T) {
	res := sampleResult()

	s := &Scenario{Assertions: []Assertion{
		{Type: "device_calls", Ops: []string{"on pump", "off pump"}},
	}}
	assert.Empty(t, CheckAssertions(s, res))

	s = &Scenario{Assertions: []Assertion{
		{Type: "device_calls", Ops: []string{"on pump"}},
	}}
	require.Len(t, CheckAssertions(s, res), 1)

	s = &Scenario{Assertions: []Assertion{
		{Type: "device_calls", Ops: []string{"on pump", "off valve"}},
	}}
	failures := CheckAssertions(s, res)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "call 1")
}

func TestUnknownAssertionType(t *testing.T) {
	s := &Scenario{Assertions: []Assertion{{Type: "nope"}}}
	failures := CheckAssertions(s, sampleResult())
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "unknown assertion type")
}
