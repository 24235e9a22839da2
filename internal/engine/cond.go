package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loom-app/loom/internal/flow"
)

// Condition evaluation. Capacity and pain comparisons are integer: authored
// thresholds are truncated to int before comparing, and equality is integer
// equality. Range bounds are inclusive.

// compareInt applies a numeric operator.
func compareInt(op flow.Operator, actual, value, min, max int) bool {
	switch op {
	case flow.OpEqual, flow.OpMeet:
		return actual == value
	case flow.OpNotEqual:
		return actual != value
	case flow.OpGreater:
		return actual > value
	case flow.OpLess:
		return actual < value
	case flow.OpGreaterEqual, flow.OpMeetOrExceed:
		return actual >= value
	case flow.OpLessEqual:
		return actual <= value
	case flow.OpRange:
		return actual >= min && actual <= max
	default:
		return false
	}
}

// compareText applies a string operator. contains is case-insensitive.
func compareText(op flow.Operator, actual, value string) bool {
	switch op {
	case flow.OpEqual, flow.OpMeet:
		return strings.EqualFold(actual, value)
	case flow.OpNotEqual:
		return !strings.EqualFold(actual, value)
	case flow.OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(value))
	default:
		return false
	}
}

// evalSubCondition evaluates one sub-condition against the session.
// Unknown variables evaluate to no-match rather than erroring; the author
// sees the false-path run.
func (s *Session) evalSubCondition(c flow.SubCondition) bool {
	switch c.Type {
	case "capacity":
		return compareInt(c.Operator, s.Capacity, int(c.Value), int(c.Min), int(c.Max))
	case "pain":
		return compareInt(c.Operator, s.Pain, int(c.Value), int(c.Min), int(c.Max))
	case "emotion":
		return compareText(c.Operator, s.Emotion, c.TextValue)
	case "variable":
		raw, ok := s.lookupFlowVar(c.Variable)
		if !ok {
			return false
		}
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && c.Operator != flow.OpContains {
			return compareInt(c.Operator, n, int(c.Value), int(c.Min), int(c.Max))
		}
		target := c.TextValue
		if target == "" && c.Operator != flow.OpContains {
			target = fmt.Sprintf("%v", c.Value)
		}
		return compareText(c.Operator, raw, target)
	default:
		return false
	}
}

// evalCondition returns the index of the first matching sub-condition, or
// -1. onceKeys are the flow-state keys already consumed by onlyOnce
// sub-conditions; matched once-only indices are appended to consumed.
func (s *Session) evalCondition(
	cfg *flow.ConditionConfig,
	nodeKey string,
	onceKeys map[string]bool,
) (idx int, consumedKey string) {
	for i, c := range cfg.Conditions {
		key := fmt.Sprintf("%s:%d", nodeKey, i)
		if c.OnlyOnce && onceKeys[key] {
			continue
		}
		if s.evalSubCondition(c) {
			if c.OnlyOnce {
				return i, key
			}
			return i, ""
		}
	}
	return -1, ""
}
