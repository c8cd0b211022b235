// Package retriever embeds a question and ranks index matches, applying a
// score threshold and collapsing near-adjacent chunks of the same document
// down to their best-scoring representative.
package retriever

import (
	"context"
	"fmt"

	"github.com/docmate-ai/docmate"
	"github.com/docmate-ai/docmate/index"
	"github.com/docmate-ai/docmate/provider"
)

// Config tunes retrieval.
type Config struct {
	// K is the number of nearest neighbors requested from the index.
	K int
	// ScoreThreshold drops results scoring below it.
	ScoreThreshold float64
	// ChunkSize is the chunking window; chunks of one document whose
	// offset ranges overlap or sit within this distance are considered
	// near-adjacent duplicates.
	ChunkSize int
	// Retry is the policy for the query embedding call.
	Retry provider.RetryConfig
}

// DefaultConfig returns the standard retrieval configuration.
func DefaultConfig() Config {
	return Config{
		K:              5,
		ScoreThreshold: 0.5,
		ChunkSize:      500,
		Retry:          provider.DefaultRetryConfig(),
	}
}

// Retriever is the read path over the embedding index.
type Retriever struct {
	index    *index.Index
	embedder docmate.EmbeddingProvider
	config   Config
}

// New creates a Retriever. Zero config fields fall back to defaults.
func New(ix *index.Index, embedder docmate.EmbeddingProvider, config Config) *Retriever {
	def := DefaultConfig()
	if config.K <= 0 {
		config.K = def.K
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = def.ChunkSize
	}
	if config.Retry.IsZero() {
		config.Retry = def.Retry
	}
	return &Retriever{index: ix, embedder: embedder, config: config}
}

// Retrieve returns the ranked, thresholded, de-duplicated matches for the
// query text. An empty result is a low-confidence signal, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]docmate.RetrievalResult, error) {
	return r.RetrieveWithConfig(ctx, query, r.config)
}

// RetrieveWithConfig retrieves with per-call parameters.
func (r *Retriever) RetrieveWithConfig(ctx context.Context, query string, config Config) ([]docmate.RetrievalResult, error) {
	vec, err := provider.Do(ctx, config.Retry, func(ctx context.Context) ([]float32, error) {
		return r.embedder.Embed(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("retriever: embedding query: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results, err := r.index.Query(vec, config.K)
	if err != nil {
		return nil, fmt.Errorf("retriever: index query: %w", err)
	}

	filtered := results[:0]
	for _, res := range results {
		if res.Score >= config.ScoreThreshold {
			filtered = append(filtered, res)
		}
	}

	return dedupeAdjacent(filtered, config.ChunkSize), nil
}

// dedupeAdjacent keeps only the highest-scoring representative among
// chunks of the same document whose offset ranges overlap or lie within
// one chunk size of each other. Input is already sorted by rank, so the
// first chunk seen for a neighborhood wins.
func dedupeAdjacent(results []docmate.RetrievalResult, chunkSize int) []docmate.RetrievalResult {
	if len(results) <= 1 {
		return results
	}

	kept := make([]docmate.RetrievalResult, 0, len(results))
	for _, res := range results {
		duplicate := false
		for _, k := range kept {
			if k.Chunk.DocumentID == res.Chunk.DocumentID &&
				nearOrOverlapping(k.Chunk, res.Chunk, chunkSize) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, res)
		}
	}
	return kept
}

func nearOrOverlapping(a, b docmate.Chunk, chunkSize int) bool {
	if a.Start < b.End && b.Start < a.End {
		return true
	}
	gap := a.Start - b.End
	if gap < 0 {
		gap = b.Start - a.End
	}
	return gap <= chunkSize
}
