// Package anthropic provides a Decision Engine backed by the Anthropic
// Claude Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/agentherd/engine"
)

// Options configures the Anthropic engine adapter (model id, temperature,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Engine wraps the Anthropic Messages API behind the generic engine.Engine
// interface. Decisions are plain text; the action grammar is carried in the
// system instructions, so no provider-side tool calling is involved.
type Engine struct {
	client *anthropic.Client
	opts   Options
}

// Interface compliance (compile-time assertion)
var _ engine.Engine = (*Engine)(nil)

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// New creates a new Anthropic engine using the official client
func New(optFns ...func(o *Options)) *Engine {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Engine{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic engine from an existing client
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Engine {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{client: client, opts: opts}
}

// Complete implements engine.Engine. It sends the instructions as the system
// prompt and the rendered request as a single user turn, returning the
// concatenated text blocks of the response.
func (e *Engine) Complete(ctx context.Context, req engine.Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       e.opts.Model,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: anthropic.Float(e.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt())),
		},
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			b.WriteString(block.AsText().Text)
		}
	}
	return b.String(), nil
}

// Info implements engine.Engine.
func (e *Engine) Info() engine.Info {
	return engine.Info{Name: string(e.opts.Model), Provider: "anthropic"}
}
