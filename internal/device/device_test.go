package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *Catalog {
	return NewCatalog([]Device{
		{ID: "d1", Name: "Pump", IP: "10.0.0.5", DeviceType: "pump", IsPrimaryPump: true},
		{ID: "d2", Name: "Vibe", Label: "Bedside Vibe", IP: "10.0.0.6", DeviceType: "vibe", IsPrimaryVibe: true},
		{ID: "d3", Name: "Strip", IP: "10.0.0.7", ChildID: "2", DeviceType: "plug"},
	})
}

func TestDeviceKey(t *testing.T) {
	assert.Equal(t, "10.0.0.7:2", (&Device{ID: "x", IP: "10.0.0.7", ChildID: "2"}).Key())
	assert.Equal(t, "10.0.0.5", (&Device{ID: "x", IP: "10.0.0.5"}).Key())
	assert.Equal(t, "x", (&Device{ID: "x"}).Key())
}

func TestIsPump(t *testing.T) {
	assert.True(t, (&Device{DeviceType: "Pump"}).IsPump())
	assert.False(t, (&Device{DeviceType: "vibe"}).IsPump())
}

func TestResolveForms(t *testing.T) {
	c := testCatalog()

	for ref, wantID := range map[string]string{
		"primary_pump":  "d1",
		"Primary_Vibe":  "d2",
		"d3":            "d3",
		"pump":          "d1",
		"bedside vibe":  "d2",
		"10.0.0.6":      "d2",
		"10.0.0.7:2":    "d3",
		" primary_pump": "d1",
	} {
		d, err := c.Resolve(ref)
		require.NoError(t, err, "ref %q", ref)
		assert.Equal(t, wantID, d.ID, "ref %q", ref)
	}
}

func TestResolveNotFound(t *testing.T) {
	c := testCatalog()

	for _, ref := range []string{"", "nothing", "10.0.0.9", "10.0.0.7:9"} {
		_, err := c.Resolve(ref)
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf, "ref %q", ref)
	}
}

func TestResolvePrimaryMissing(t *testing.T) {
	c := NewCatalog([]Device{{ID: "d1", Name: "Vibe", DeviceType: "vibe"}})
	_, err := c.Resolve("primary_pump")
	assert.Error(t, err)
}

func TestMatchesFilter(t *testing.T) {
	d := &Device{ID: "d3", Name: "Strip", IP: "10.0.0.7", ChildID: "2"}

	assert.True(t, d.MatchesFilter(""))
	assert.True(t, d.MatchesFilter("10.0.0.7:2"))
	assert.True(t, d.MatchesFilter("10.0.0.7"))
	assert.True(t, d.MatchesFilter("d3"))
	assert.True(t, d.MatchesFilter("strip"))
	assert.False(t, d.MatchesFilter("10.0.0.8"))
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(`[{"id":"d1","name":"Pump","deviceType":"pump"}]`))
	require.NoError(t, err)
	require.Len(t, c.Devices(), 1)
	assert.Equal(t, "Pump", c.Devices()[0].Name)

	_, err = ParseCatalog([]byte(`{"not":"a list"}`))
	assert.Error(t, err)
}

func TestFakeDriverRecordsCalls(t *testing.T) {
	f := NewFakeDriver()
	d := &Device{ID: "d1", IP: "10.0.0.5"}
	ctx := context.Background()

	require.NoError(t, f.TurnOn(ctx, d))
	require.NoError(t, f.StartCycle(ctx, d, 2*time.Second, time.Second, 3))
	require.NoError(t, f.StopCycle(ctx, d))
	require.NoError(t, f.TurnOff(ctx, d))

	calls := f.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "on", calls[0].Op)
	assert.Equal(t, Call{Op: "cycle_start", Key: "10.0.0.5", Duration: 2 * time.Second, Interval: time.Second, Cycles: 3}, calls[1])
	assert.Equal(t, "cycle_stop", calls[2].Op)
	assert.Equal(t, "off", calls[3].Op)
}

func TestFakeDriverStopWithoutCycle(t *testing.T) {
	f := NewFakeDriver()
	d := &Device{ID: "d1"}

	assert.ErrorIs(t, f.StopCycle(context.Background(), d), ErrNoActiveCycle)

	require.NoError(t, f.StartCycle(context.Background(), d, time.Second, 0, 0))
	require.NoError(t, f.StopCycle(context.Background(), d))
	assert.ErrorIs(t, f.StopCycle(context.Background(), d), ErrNoActiveCycle)
}

func TestFakeDriverFail(t *testing.T) {
	f := NewFakeDriver()
	f.Fail = context.DeadlineExceeded

	err := f.TurnOn(context.Background(), &Device{ID: "d1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.Calls())
}
