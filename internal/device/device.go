// Package device holds the device catalog, the reference resolver, and the
// driver contract the engine actuates against. Transport and brand handling
// live behind the Driver interface.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Device is one catalog entry from devices.json.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Label         string `json:"label,omitempty"`
	IP            string `json:"ip,omitempty"`
	DeviceID      string `json:"deviceId,omitempty"`
	ChildID       string `json:"childId,omitempty"`
	Brand         string `json:"brand"`
	DeviceType    string `json:"deviceType"` // pump | vibe | ...
	IsPrimaryPump bool   `json:"isPrimaryPump,omitempty"`
	IsPrimaryVibe bool   `json:"isPrimaryVibe,omitempty"`
}

// Key returns the identity used for pending-op and monitor bookkeeping:
// ip:childId when a child id exists, otherwise the ip, otherwise the id.
func (d *Device) Key() string {
	switch {
	case d.IP != "" && d.ChildID != "":
		return d.IP + ":" + d.ChildID
	case d.IP != "":
		return d.IP
	default:
		return d.ID
	}
}

// IsPump reports whether the device inflates. The engine's over-inflation
// safety rule applies only to pumps.
func (d *Device) IsPump() bool {
	return strings.EqualFold(d.DeviceType, "pump")
}

// Driver actuates physical devices. Implementations resolve brand-specific
// transport; calls may block on network I/O and honor ctx cancellation.
type Driver interface {
	TurnOn(ctx context.Context, d *Device) error
	TurnOff(ctx context.Context, d *Device) error
	// StartCycle runs cycles of duration with interval between them.
	// cycles=0 runs until StopCycle.
	StartCycle(ctx context.Context, d *Device, duration, interval time.Duration, cycles int) error
	// StopCycle halts a running cycle. Returns ErrNoActiveCycle when the
	// device was not cycling; callers fall back to TurnOff.
	StopCycle(ctx context.Context, d *Device) error
}

// ErrNoActiveCycle is returned by StopCycle when no cycle is running.
var ErrNoActiveCycle = fmt.Errorf("no active cycle")

// NotFoundError reports a device reference that resolved to nothing.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no such device: %q", e.Ref)
}

// Catalog is the loaded device list with resolution indexes.
type Catalog struct {
	devices []Device
}

// LoadCatalog reads devices.json.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a devices.json document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var devices []Device
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("parse device catalog: %w", err)
	}
	return &Catalog{devices: devices}, nil
}

// NewCatalog builds a catalog from an in-memory list. Used by tests.
func NewCatalog(devices []Device) *Catalog {
	return &Catalog{devices: devices}
}

// Devices returns the catalog entries.
func (c *Catalog) Devices() []Device {
	return c.devices
}

// Resolve maps a flow-authored device reference to a catalog entry.
// Accepted forms, tried in order:
//
//	primary_pump / primary_vibe  the flagged primary device
//	<id>                         catalog id
//	<name> or <label>            case-insensitive
//	<ip>                         exact ip (first match)
//	<ip>:<childId>               exact ip + child
func (c *Catalog) Resolve(ref string) (*Device, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &NotFoundError{Ref: ref}
	}

	switch strings.ToLower(ref) {
	case "primary_pump":
		for i := range c.devices {
			if c.devices[i].IsPrimaryPump {
				return &c.devices[i], nil
			}
		}
		return nil, &NotFoundError{Ref: ref}
	case "primary_vibe":
		for i := range c.devices {
			if c.devices[i].IsPrimaryVibe {
				return &c.devices[i], nil
			}
		}
		return nil, &NotFoundError{Ref: ref}
	}

	if ip, child, ok := strings.Cut(ref, ":"); ok {
		for i := range c.devices {
			if c.devices[i].IP == ip && c.devices[i].ChildID == child {
				return &c.devices[i], nil
			}
		}
	}

	for i := range c.devices {
		d := &c.devices[i]
		if d.ID == ref ||
			strings.EqualFold(d.Name, ref) ||
			(d.Label != "" && strings.EqualFold(d.Label, ref)) ||
			d.IP == ref {
			return d, nil
		}
	}

	return nil, &NotFoundError{Ref: ref}
}

// MatchesFilter reports whether the device matches a trigger's device
// filter: exact key, ip, id, or name match. Empty filter matches any.
func (d *Device) MatchesFilter(filter string) bool {
	if filter == "" {
		return true
	}
	return filter == d.Key() || filter == d.IP || filter == d.ID ||
		strings.EqualFold(filter, d.Name)
}
