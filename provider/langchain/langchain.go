// Package langchain adapts any langchaingo llms.Model into a generation
// provider, so local or hosted models wired through langchaingo can serve
// as the primary or fallback backend.
package langchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/docmate-ai/docmate"
)

const systemPrompt = "You are a study assistant. Answer strictly from the provided document context."

// Generator wraps an llms.Model.
type Generator struct {
	model llms.Model
	name  string
}

var _ docmate.GenerationProvider = (*Generator)(nil)

// New creates a Generator over the model. The name tags answers and logs.
func New(model llms.Model, name string) (*Generator, error) {
	if model == nil {
		return nil, fmt.Errorf("langchain: model is required")
	}
	if name == "" {
		name = "langchain"
	}
	return &Generator{model: model, name: name}, nil
}

// Complete runs one generation call against the wrapped model.
func (g *Generator) Complete(ctx context.Context, prompt string, params docmate.GenerationParams) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	var opts []llms.CallOption
	if params.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(params.MaxTokens))
	}
	if params.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(params.Temperature))
	}

	resp, err := g.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		// langchaingo does not expose a status code, so failures are
		// treated as retryable.
		return "", docmate.NewProviderError(g.name, docmate.Transient, err)
	}
	if len(resp.Choices) == 0 {
		return "", docmate.NewProviderError(g.name, docmate.Permanent,
			fmt.Errorf("empty response from model"))
	}
	return resp.Choices[0].Content, nil
}

// Name identifies the provider in logs and answers.
func (g *Generator) Name() string { return g.name }
