// Package llm defines the provider-agnostic chat endpoint abstraction used by
// the stage executor. It models a request as an ordered, role-tagged message
// list and a response as assistant text plus a token-usage record — the
// minimal surface the pipeline needs from any LLM provider.
package llm

import (
	"context"
	"errors"
)

// Role identifies the speaker of a Message in a chat transcript.
type Role string

const (
	// RoleSystem carries instructions that shape the assistant's behavior.
	RoleSystem Role = "system"
	// RoleUser carries input supplied by the caller.
	RoleUser Role = "user"
	// RoleAssistant carries prior model output, when replaying a transcript.
	RoleAssistant Role = "assistant"
)

type (
	// Message is a single role-tagged turn in a chat transcript.
	Message struct {
		Role    Role
		Content string
	}

	// TokenUsage reports token consumption for one chat endpoint call.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
		// Model is the provider-reported (or requested) model identifier this
		// usage was billed against. Present even when all counts are zero, so
		// the token accountant can still attribute a degraded usage record.
		Model string
	}

	// Request captures inputs for a single chat endpoint invocation.
	Request struct {
		// Model is the provider-specific model identifier.
		Model string
		// Messages is the ordered transcript sent to the provider.
		Messages []Message
		// Temperature controls sampling. The bundled adapters replace a zero
		// value with their configured default temperature and always send one.
		Temperature float64
		// MaxTokens caps the number of output tokens.
		MaxTokens int
	}

	// Response is the result of a non-streaming chat endpoint invocation.
	Response struct {
		// Text is the concatenated assistant text content.
		Text string
		// Usage reports token consumption for the call.
		Usage TokenUsage
		// StopReason records why generation stopped, when the provider reports one.
		StopReason string
	}

	// Client is the abstract chat endpoint. Implementations translate Request
	// into a provider-specific call and translate the provider's response back
	// into Response. Streaming is out of scope: the pipeline never surfaces
	// partial LLM output (see spec non-goals).
	Client interface {
		Complete(ctx context.Context, req Request) (*Response, error)
	}
)

// ErrRateLimited marks a rate-limit failure; callers detect it with
// errors.Is. The anthropic adapter keeps it detectable when the underlying
// messages client returns an error wrapping it. No bundled adapter maps a
// provider's HTTP 429 response to it on its own.
var ErrRateLimited = errors.New("llm: rate limited")
