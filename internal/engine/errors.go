package engine

import (
	"errors"
	"fmt"
)

// EngineError represents a non-fatal error surfaced during dispatch or
// interpretation. Errors never terminate the engine; at worst they abort
// one chain.
type EngineError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// FlowID identifies the affected flow.
	FlowID string

	// NodeID identifies the node being executed, when known.
	NodeID string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeConfig indicates an authoring error: a flow references a
	// missing node, a required field is absent, a variable is unknown.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"

	// ErrCodeDevice indicates a device driver failure or an unresolvable
	// device reference.
	ErrCodeDevice ErrorCode = "DEVICE_ERROR"

	// ErrCodeLLM indicates a generation-service failure.
	ErrCodeLLM ErrorCode = "LLM_ERROR"

	// ErrCodeDepthExceeded indicates the per-event node-visit cap fired.
	ErrCodeDepthExceeded ErrorCode = "DEPTH_EXCEEDED"

	// ErrCodeUnknownNode indicates an edge target that does not exist.
	ErrCodeUnknownNode ErrorCode = "UNKNOWN_NODE"
)

// Error implements the error interface.
func (e *EngineError) Error() string {
	switch {
	case e.FlowID != "" && e.NodeID != "":
		return fmt.Sprintf("%s: %s (flow=%s, node=%s)", e.Code, e.Message, e.FlowID, e.NodeID)
	case e.FlowID != "":
		return fmt.Sprintf("%s: %s (flow=%s)", e.Code, e.Message, e.FlowID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsConfigError reports whether err is an authoring error.
// Uses errors.As to handle wrapped errors.
func IsConfigError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == ErrCodeConfig
}

// IsDepthError reports whether err is a node-visit cap error.
func IsDepthError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == ErrCodeDepthExceeded
}

// errAborted unwinds a chain after a preemption. It is a control signal,
// not an error: callers swallow it without broadcasting.
var errAborted = errors.New("chain aborted")

func newConfigError(flowID, nodeID, msg string) *EngineError {
	return &EngineError{Code: ErrCodeConfig, Message: msg, FlowID: flowID, NodeID: nodeID}
}

func newDepthError(flowID, nodeID string, visits, limit int) *EngineError {
	return &EngineError{
		Code:    ErrCodeDepthExceeded,
		Message: fmt.Sprintf("chain exceeded node-visit cap (%d >= %d)", visits, limit),
		FlowID:  flowID,
		NodeID:  nodeID,
		Details: map[string]string{
			"visits": fmt.Sprintf("%d", visits),
			"cap":    fmt.Sprintf("%d", limit),
		},
	}
}
