// Package anthropic implements llm.Client on top of the official
// anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/resilience"
	"github.com/lumenlead/prospector/pkg/llm"
)

const defaultModel = "claude-haiku-4-5-20251001"

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	// model → {input $/MTok, output $/MTok}
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-6":            {15.00, 75.00},
}

// Option configures the client.
type Option func(*client)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithRetry overrides the retry configuration.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) {
		c.retry = cfg
	}
}

// WithBaseURL points the SDK at an alternate endpoint. Used in tests.
func WithBaseURL(url string) Option {
	return func(c *client) {
		c.sdkOpts = append(c.sdkOpts, option.WithBaseURL(url))
	}
}

type client struct {
	sdk     sdk.Client
	sdkOpts []option.RequestOption
	model   string
	retry   resilience.RetryConfig
}

// NewClient creates an Anthropic completion client. The SDK's own retries
// are disabled; the shared retry helper governs all attempts so auth
// failures fail fast.
func NewClient(apiKey string, opts ...Option) llm.Client {
	c := &client{
		model: defaultModel,
		retry: resilience.DefaultRetryConfig(),
	}
	c.sdkOpts = []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	for _, o := range opts {
		o(c)
	}
	c.sdk = sdk.NewClient(c.sdkOpts...)
	return c
}

func (c *client) Provider() string     { return "anthropic" }
func (c *client) DefaultModel() string { return c.model }

func (c *client) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("anthropic", "complete")
	}

	out, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*llm.Completion, error) {
		return c.complete(ctx, model, req)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) complete(ctx context.Context, model string, req llm.CompletionRequest) (*llm.Completion, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, resilience.NewTransientError(llm.ErrEmptyCompletion, 0)
	}

	usage := llm.TokenUsage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	logCost(string(msg.Model), usage)

	return &llm.Completion{
		Text:  text,
		Model: string(msg.Model),
		Usage: usage,
	}, nil
}

// classify maps SDK errors onto the shared retry taxonomy.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return resilience.NewAuthError(eris.Wrap(err, "anthropic: create message"), apiErr.StatusCode)
		case resilience.IsTransientHTTPStatus(apiErr.StatusCode):
			return resilience.NewTransientError(eris.Wrap(err, "anthropic: create message"), apiErr.StatusCode)
		}
	}
	return eris.Wrap(err, "anthropic: create message")
}

func logCost(model string, u llm.TokenUsage) {
	pricing, ok := modelPricing[model]
	if !ok {
		return
	}
	cost := (float64(u.InputTokens)/1e6)*pricing[0] + (float64(u.OutputTokens)/1e6)*pricing[1]
	zap.L().Debug("cost attribution",
		zap.String("model", model),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Float64("estimated_cost_usd", cost),
	)
}
