// Package llmtest provides a scripted llm.Client for pipeline tests. Each call
// to Complete pops the next scripted response (or error) off the client's
// queue, letting tests drive the PM/Dev/QA stages through exact scenarios
// without a real provider.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"agentpipeline.dev/core/runtime/llm"
)

// Scripted is an llm.Client that replays a fixed sequence of responses.
// Construct it with the exact number of calls the test expects; calling
// Complete more times than scripted responses exist returns an error.
type Scripted struct {
	mu        sync.Mutex
	responses []Step
	calls     []llm.Request
}

// Step is one scripted call outcome: either a Response or an Err, never both.
type Step struct {
	Response *llm.Response
	Err      error
}

// NewScripted builds a Scripted client that returns steps in order.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{responses: steps}
}

// Complete returns the next scripted step, recording the request for later
// inspection via Calls.
func (s *Scripted) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("llmtest: no scripted response left for call %d", len(s.calls))
	}
	step := s.responses[0]
	s.responses = s.responses[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Calls returns the requests observed so far, in call order.
func (s *Scripted) Calls() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// Text is a convenience constructor for a scripted plain-text response with
// the given token usage.
func Text(text string, input, output int) Step {
	total := input + output
	return Step{Response: &llm.Response{
		Text: text,
		Usage: llm.TokenUsage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  total,
		},
		StopReason: "end_turn",
	}}
}

// Error is a convenience constructor for a scripted transport failure.
func Error(err error) Step {
	return Step{Err: err}
}
