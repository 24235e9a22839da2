package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// BridgeDriver actuates devices through a local bridge daemon that owns the
// brand-specific protocols. One POST per actuation; the bridge addresses
// devices by ip and optional childId.
type BridgeDriver struct {
	baseURL string
	client  *http.Client
}

// NewBridgeDriver creates a driver against the bridge at baseURL.
func NewBridgeDriver(baseURL string, timeout time.Duration) *BridgeDriver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BridgeDriver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type bridgeRequest struct {
	IP       string  `json:"ip"`
	ChildID  string  `json:"childId,omitempty"`
	Brand    string  `json:"brand,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Interval float64 `json:"interval,omitempty"`
	Cycles   int     `json:"cycles,omitempty"`
}

func (b *BridgeDriver) TurnOn(ctx context.Context, d *Device) error {
	return b.post(ctx, "/device/on", bridgeRequest{IP: d.IP, ChildID: d.ChildID, Brand: d.Brand})
}

func (b *BridgeDriver) TurnOff(ctx context.Context, d *Device) error {
	return b.post(ctx, "/device/off", bridgeRequest{IP: d.IP, ChildID: d.ChildID, Brand: d.Brand})
}

func (b *BridgeDriver) StartCycle(ctx context.Context, d *Device, duration, interval time.Duration, cycles int) error {
	return b.post(ctx, "/device/cycle/start", bridgeRequest{
		IP:       d.IP,
		ChildID:  d.ChildID,
		Brand:    d.Brand,
		Duration: duration.Seconds(),
		Interval: interval.Seconds(),
		Cycles:   cycles,
	})
}

func (b *BridgeDriver) StopCycle(ctx context.Context, d *Device) error {
	err := b.post(ctx, "/device/cycle/stop", bridgeRequest{IP: d.IP, ChildID: d.ChildID, Brand: d.Brand})
	if err != nil && isStatus(err, http.StatusConflict) {
		return ErrNoActiveCycle
	}
	return err
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("bridge returned %d: %s", e.status, e.body)
}

func isStatus(err error, code int) bool {
	se, ok := err.(*statusError)
	return ok && se.status == code
}

func (b *BridgeDriver) post(ctx context.Context, path string, body bridgeRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: string(msg)}
	}
	return nil
}

// Call is one recorded actuation on the fake driver.
type Call struct {
	Op       string // on | off | cycle_start | cycle_stop
	Key      string
	Duration time.Duration
	Interval time.Duration
	Cycles   int
}

// FakeDriver records actuations instead of performing them. Used by tests,
// simulate, and replay. Cycling state is tracked so StopCycle returns
// ErrNoActiveCycle the way a real bridge would.
type FakeDriver struct {
	mu      sync.Mutex
	calls   []Call
	cycling map[string]bool

	// Fail, when set, is returned from every actuation.
	Fail error
}

// NewFakeDriver creates an empty fake.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{cycling: make(map[string]bool)}
}

func (f *FakeDriver) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Calls returns a copy of every recorded actuation in order.
func (f *FakeDriver) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakeDriver) TurnOn(_ context.Context, d *Device) error {
	if f.Fail != nil {
		return f.Fail
	}
	slog.Debug("fake device on", "key", d.Key())
	f.record(Call{Op: "on", Key: d.Key()})
	return nil
}

func (f *FakeDriver) TurnOff(_ context.Context, d *Device) error {
	if f.Fail != nil {
		return f.Fail
	}
	slog.Debug("fake device off", "key", d.Key())
	f.record(Call{Op: "off", Key: d.Key()})
	return nil
}

func (f *FakeDriver) StartCycle(_ context.Context, d *Device, duration, interval time.Duration, cycles int) error {
	if f.Fail != nil {
		return f.Fail
	}
	f.mu.Lock()
	f.cycling[d.Key()] = true
	f.mu.Unlock()
	f.record(Call{Op: "cycle_start", Key: d.Key(), Duration: duration, Interval: interval, Cycles: cycles})
	return nil
}

func (f *FakeDriver) StopCycle(_ context.Context, d *Device) error {
	if f.Fail != nil {
		return f.Fail
	}
	f.mu.Lock()
	active := f.cycling[d.Key()]
	delete(f.cycling, d.Key())
	f.mu.Unlock()
	f.record(Call{Op: "cycle_stop", Key: d.Key()})
	if !active {
		return ErrNoActiveCycle
	}
	return nil
}
