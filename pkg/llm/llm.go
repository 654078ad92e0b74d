// Package llm defines the provider-neutral completion interface implemented
// by the Anthropic and OpenAI clients.
package llm

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrEmptyCompletion is returned when a model responds successfully but with
// no usable text. Callers may retry; the clients already do so internally.
var ErrEmptyCompletion = eris.New("llm: model returned an empty completion")

// CompletionRequest is a single-turn text completion.
type CompletionRequest struct {
	Model       string // empty = provider default
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature *float64
}

// Completion carries the model output plus attribution for persistence.
type Completion struct {
	Text  string
	Model string
	Usage TokenUsage
}

// TokenUsage tracks token consumption for cost logging.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Client is a completion provider. Implementations classify upstream
// failures (transient vs. auth) and retry transient ones internally.
type Client interface {
	// Complete runs a single completion. An empty model response is retried
	// and surfaces as ErrEmptyCompletion once attempts are exhausted.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// Provider returns the provider name ("anthropic", "openai").
	Provider() string

	// DefaultModel returns the model used when a request leaves Model empty.
	DefaultModel() string
}
