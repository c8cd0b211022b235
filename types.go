package docmate

import (
	"context"
	"time"
)

// Document describes an ingested document. The text itself is held as
// chunks by the index; Document carries identity and source metadata only.
type Document struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	PageCount int            `json:"page_count"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Chunk is a bounded contiguous span of a document's text, the unit of
// indexing and retrieval. Start and End are byte offsets into the source
// text; consecutive chunks of a document overlap by the configured amount.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Seq        int    `json:"seq"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Chars      int    `json:"chars"`
}

// RetrievalResult pairs a chunk with its similarity score in [0,1].
type RetrievalResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Provider tags which generation backend produced an answer.
type Provider string

const (
	ProviderPrimary  Provider = "primary"
	ProviderFallback Provider = "fallback"
)

// Answer is the result of a single question against the pipeline.
type Answer struct {
	Text       string   `json:"text"`
	Citations  []string `json:"citations"`
	Provider   Provider `json:"provider"`
	Confidence float64  `json:"confidence"`
	FollowUps  []string `json:"follow_ups,omitempty"`
}

// ConversationTurn is one completed question/answer exchange. Turns are
// immutable once created.
type ConversationTurn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Citations []string  `json:"citations"`
	Provider  Provider  `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// Size returns the number of characters this turn contributes to the
// session history budget.
func (t ConversationTurn) Size() int {
	return len(t.Question) + len(t.Answer)
}

// GenerationParams tunes a single completion call.
type GenerationParams struct {
	MaxTokens   int
	Temperature float64
}

// EmbeddingProvider turns text into a vector. Implementations must honor
// the context deadline and classify failures via ProviderError.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenerationProvider completes a prompt. Implementations must honor the
// context deadline and classify failures via ProviderError.
type GenerationProvider interface {
	Complete(ctx context.Context, prompt string, params GenerationParams) (string, error)
	Name() string
}
