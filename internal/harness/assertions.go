package harness

import (
	"fmt"
	"strings"

	"github.com/loom-app/loom/internal/broadcast"
)

// Assertion validates one property of a scenario result. Type selects
// which fields apply.
type Assertion struct {
	Type string `yaml:"type"` // broadcast_contains | broadcast_order | broadcast_count | device_calls

	// broadcast_contains and broadcast_count.
	Broadcast string `yaml:"broadcast,omitempty"`
	Contains  string `yaml:"contains,omitempty"`
	Count     *int   `yaml:"count,omitempty"`

	// broadcast_order: envelope types in required relative order.
	Order []string `yaml:"order,omitempty"`

	// device_calls: the exact op sequence, as "op key" strings.
	Ops []string `yaml:"ops,omitempty"`
}

// CheckAssertions runs every assertion against the result. Returns one
// failure message per violated assertion.
func CheckAssertions(s *Scenario, result *Result) []string {
	var failures []string
	for i, a := range s.Assertions {
		if err := checkOne(a, result); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d (%s): %v", i+1, a.Type, err))
		}
	}
	return failures
}

func checkOne(a Assertion, result *Result) error {
	switch a.Type {
	case "broadcast_contains":
		return checkContains(a, result.Envelopes)
	case "broadcast_order":
		return checkOrder(a.Order, result.Envelopes)
	case "broadcast_count":
		return checkCount(a, result.Envelopes)
	case "device_calls":
		return checkDeviceCalls(a.Ops, result)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func checkContains(a Assertion, envs []broadcast.Envelope) error {
	for _, env := range envs {
		if a.Broadcast != "" && string(env.Type) != a.Broadcast {
			continue
		}
		line, err := env.MarshalTrace()
		if err != nil {
			return err
		}
		if a.Contains == "" || strings.Contains(line, a.Contains) {
			return nil
		}
	}
	return fmt.Errorf("no %s envelope containing %q", a.Broadcast, a.Contains)
}

func checkOrder(order []string, envs []broadcast.Envelope) error {
	idx := 0
	for _, env := range envs {
		if idx < len(order) && string(env.Type) == order[idx] {
			idx++
		}
	}
	if idx < len(order) {
		return fmt.Errorf("missing %q at position %d of expected order", order[idx], idx)
	}
	return nil
}

func checkCount(a Assertion, envs []broadcast.Envelope) error {
	if a.Count == nil {
		return fmt.Errorf("broadcast_count needs count")
	}
	n := 0
	for _, env := range envs {
		if string(env.Type) == a.Broadcast {
			n++
		}
	}
	if n != *a.Count {
		return fmt.Errorf("%s appeared %d time(s), want %d", a.Broadcast, n, *a.Count)
	}
	return nil
}

func checkDeviceCalls(ops []string, result *Result) error {
	var got []string
	for _, c := range result.DeviceCalls {
		got = append(got, c.Op+" "+c.Key)
	}
	if len(got) != len(ops) {
		return fmt.Errorf("recorded %v, want %v", got, ops)
	}
	for i := range ops {
		if got[i] != ops[i] {
			return fmt.Errorf("call %d: got %q, want %q", i, got[i], ops[i])
		}
	}
	return nil
}
