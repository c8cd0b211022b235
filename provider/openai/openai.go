// Package openai backs the embedding and generation contracts with the
// OpenAI API (or any compatible endpoint via a custom base URL).
package openai

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/docmate-ai/docmate"
)

// Config holds connection settings shared by the embedder and generator.
type Config struct {
	APIKey  string
	BaseURL string // empty for api.openai.com
	// EmbeddingModel defaults to text-embedding-3-small.
	EmbeddingModel string
	// ChatModel defaults to gpt-4o-mini.
	ChatModel string
}

func newClient(cfg Config) *goopenai.Client {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return goopenai.NewClientWithConfig(clientCfg)
}

// classify maps an API failure onto the transient/permanent taxonomy.
// Rate limits and server errors are retryable; auth and request shape
// problems are not.
func classify(name string, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return docmate.NewProviderError(name, docmate.Transient, err)
		case apiErr.HTTPStatusCode >= 400:
			return docmate.NewProviderError(name, docmate.Permanent, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Network-level failures are worth retrying.
	return docmate.NewProviderError(name, docmate.Transient, err)
}

// Embedder produces embedding vectors via the embeddings endpoint.
type Embedder struct {
	client *goopenai.Client
	model  goopenai.EmbeddingModel
}

var _ docmate.EmbeddingProvider = (*Embedder)(nil)

// NewEmbedder creates an Embedder from the config.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	model := goopenai.SmallEmbedding3
	if cfg.EmbeddingModel != "" {
		model = goopenai.EmbeddingModel(cfg.EmbeddingModel)
	}
	return &Embedder{client: newClient(cfg), model: model}, nil
}

// Embed returns the embedding vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, classify("openai-embeddings", err)
	}
	if len(resp.Data) == 0 {
		return nil, docmate.NewProviderError("openai-embeddings", docmate.Permanent,
			fmt.Errorf("empty embedding response"))
	}
	return resp.Data[0].Embedding, nil
}

// Generator produces completions via the chat endpoint.
type Generator struct {
	client *goopenai.Client
	model  string
	name   string
}

var _ docmate.GenerationProvider = (*Generator)(nil)

// NewGenerator creates a Generator from the config.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	model := cfg.ChatModel
	if model == "" {
		model = goopenai.GPT4oMini
	}
	return &Generator{
		client: newClient(cfg),
		model:  model,
		name:   fmt.Sprintf("openai/%s", model),
	}, nil
}

// Complete returns the model's answer for the prompt.
func (g *Generator) Complete(ctx context.Context, prompt string, params docmate.GenerationParams) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: g.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}
	if params.Temperature > 0 {
		req.Temperature = float32(params.Temperature)
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(g.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", docmate.NewProviderError(g.name, docmate.Permanent,
			fmt.Errorf("empty completion response"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Name identifies the provider in logs and answers.
func (g *Generator) Name() string { return g.name }
