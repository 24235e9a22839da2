// Package llm is the engine's contract with the generation service. The
// engine calls it directly only for player-choice persona messages; all
// other text reaches the LLM through the chat pipeline downstream of the
// broadcast layer.
package llm

import (
	"context"
	"errors"
	"sync"
)

// Request is one generation call.
type Request struct {
	// System is the system prompt; empty uses the service default.
	System string

	// Prompt is the user-turn content.
	Prompt string

	// MaxTokens bounds the completion. Zero uses the service default.
	MaxTokens int
}

// Generator produces text from a prompt. Implementations must honor ctx
// cancellation; the engine cancels generations on pause and preemption.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrScriptExhausted is returned by Scripted when all responses are used.
var ErrScriptExhausted = errors.New("llm: scripted responses exhausted")

// Scripted returns canned responses in order. Test double.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	idx       int

	// Requests records every call for assertions.
	Requests []Request
}

// NewScripted creates a generator returning the given responses in order.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

func (s *Scripted) Generate(_ context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)
	if s.idx >= len(s.responses) {
		return "", ErrScriptExhausted
	}
	out := s.responses[s.idx]
	s.idx++
	return out, nil
}
