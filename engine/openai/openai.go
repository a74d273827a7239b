// Package openai provides a Decision Engine backed by the OpenAI Chat
// Completions API. It maps the normalized engine.Request onto a
// system + user message pair and returns the first choice as plain text.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/agentherd/engine"
)

// Options configure the OpenAI engine adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Engine wraps the OpenAI Chat Completions API behind the generic
// engine.Engine interface.
type Engine struct {
	client *openai.Client
	opts   Options
}

// Interface compliance (compile-time assertion)
var _ engine.Engine = (*Engine)(nil)

// New creates a new OpenAI engine using the official client
func New(optFns ...func(o *Options)) *Engine {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI engine from an existing client
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{client: client, opts: opts}
}

// Complete implements engine.Engine.
func (e *Engine) Complete(ctx context.Context, req engine.Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt()))

	params := openai.ChatCompletionNewParams{
		Model:               e.opts.Model,
		Messages:            messages,
		Temperature:         openai.Float(e.opts.Temperature),
		MaxCompletionTokens: openai.Int(e.opts.MaxCompletionTokens),
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Info implements engine.Engine.
func (e *Engine) Info() engine.Info {
	return engine.Info{Name: e.opts.Model, Provider: "openai"}
}
