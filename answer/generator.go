// Package answer turns an assembled context and a question into an answer.
// A primary generation provider is tried first with a bounded retry; on
// exhaustion or permanent failure the fallback provider takes over. The
// provider that produced the result is tagged on every answer.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/docmate-ai/docmate"
	"github.com/docmate-ai/docmate/log"
	"github.com/docmate-ai/docmate/prompt"
	"github.com/docmate-ai/docmate/provider"
)

// Generator orchestrates the primary and fallback generation providers.
type Generator struct {
	primary  docmate.GenerationProvider
	fallback docmate.GenerationProvider
	params   docmate.GenerationParams
	retry    provider.RetryConfig
	logger   log.Logger
}

// Option configures a Generator
type Option func(*Generator)

// WithFallback sets the secondary provider
func WithFallback(p docmate.GenerationProvider) Option {
	return func(g *Generator) { g.fallback = p }
}

// WithParams sets the generation parameters
func WithParams(params docmate.GenerationParams) Option {
	return func(g *Generator) { g.params = params }
}

// WithRetry sets the per-provider retry policy
func WithRetry(cfg provider.RetryConfig) Option {
	return func(g *Generator) { g.retry = cfg }
}

// WithLogger sets the generator logger
func WithLogger(l log.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// New creates a Generator around the primary provider.
func New(primary docmate.GenerationProvider, opts ...Option) (*Generator, error) {
	if primary == nil {
		return nil, fmt.Errorf("answer: primary provider is required")
	}
	g := &Generator{
		primary: primary,
		params:  docmate.GenerationParams{MaxTokens: 512, Temperature: 0.2},
		retry:   provider.DefaultRetryConfig(),
		logger:  log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate produces an answer for the question over the assembled context.
// Citations are exactly the chunk ids the context builder included; they
// are never re-derived here. When both providers fail the error wraps
// ErrGenerationUnavailable and no default answer is fabricated.
func (g *Generator) Generate(ctx context.Context, asm *prompt.Assembled, question, documentTitle string) (*docmate.Answer, error) {
	p := prompt.AnswerPrompt(asm, question, documentTitle)

	text, tag, err := g.complete(ctx, p)
	if err != nil {
		return nil, err
	}

	return &docmate.Answer{
		Text:       strings.TrimSpace(text),
		Citations:  append([]string(nil), asm.ChunkIDs...),
		Provider:   tag,
		Confidence: meanScore(asm.Scores),
	}, nil
}

// Summarize produces a summary of the assembled context.
func (g *Generator) Summarize(ctx context.Context, asm *prompt.Assembled, documentTitle string) (string, docmate.Provider, error) {
	text, tag, err := g.complete(ctx, prompt.SummaryPrompt(asm, documentTitle))
	if err != nil {
		return "", tag, err
	}
	return strings.TrimSpace(text), tag, nil
}

// FollowUps derives up to three follow-up questions for a completed
// exchange. Best effort: any failure yields an empty list.
func (g *Generator) FollowUps(ctx context.Context, question, answerText string) []string {
	text, _, err := g.complete(ctx, prompt.FollowUpPrompt(question, answerText))
	if err != nil {
		g.logger.Debug("follow-up generation skipped: %v", err)
		return nil
	}
	return parseFollowUps("1." + text)
}

// complete runs the primary/fallback decision: primary under the retry
// policy, then fallback under the same policy. Context cancellation is
// never masked as a provider failure.
func (g *Generator) complete(ctx context.Context, p string) (string, docmate.Provider, error) {
	text, primaryErr := provider.Do(ctx, g.retry, func(ctx context.Context) (string, error) {
		return g.primary.Complete(ctx, p, g.params)
	})
	if primaryErr == nil {
		return text, docmate.ProviderPrimary, nil
	}
	if ctx.Err() != nil {
		return "", docmate.ProviderPrimary, ctx.Err()
	}

	if g.fallback == nil {
		return "", docmate.ProviderPrimary, fmt.Errorf("primary provider %s failed (%v), no fallback configured: %w",
			g.primary.Name(), primaryErr, docmate.ErrGenerationUnavailable)
	}

	g.logger.Warn("primary provider %s failed, switching to fallback %s: %v",
		g.primary.Name(), g.fallback.Name(), primaryErr)

	text, fallbackErr := provider.Do(ctx, g.retry, func(ctx context.Context) (string, error) {
		return g.fallback.Complete(ctx, p, g.params)
	})
	if fallbackErr == nil {
		return text, docmate.ProviderFallback, nil
	}
	if ctx.Err() != nil {
		return "", docmate.ProviderFallback, ctx.Err()
	}

	g.logger.Error("both generation providers failed: primary=%v fallback=%v", primaryErr, fallbackErr)
	return "", docmate.ProviderFallback, fmt.Errorf("primary: %v; fallback: %v: %w",
		primaryErr, fallbackErr, docmate.ErrGenerationUnavailable)
}

func meanScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// parseFollowUps extracts numbered or bulleted questions from model
// output, at most three.
func parseFollowUps(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		trimmed := ""
		switch {
		case strings.HasPrefix(line, "1."), strings.HasPrefix(line, "2."), strings.HasPrefix(line, "3."):
			trimmed = strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "- "):
			trimmed = strings.TrimSpace(line[2:])
		}
		if len(trimmed) > 10 {
			out = append(out, trimmed)
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}
