// Package index implements the embedding index: an in-memory cosine
// similarity store over document chunks with atomic per-document mutation,
// deterministic ranking, snapshot persistence, and reconciliation between
// the chunk store and the vector entries.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/docmate-ai/docmate"
	"github.com/docmate-ai/docmate/log"
	"github.com/docmate-ai/docmate/provider"
)

// Index stores chunk vectors and metadata. Reads run under a shared lock
// and only ever observe fully committed per-document states; embedding
// calls never happen while a lock is held.
type Index struct {
	mu sync.RWMutex

	docs      map[string]docmate.Document
	docChunks map[string][]docmate.Chunk // ordered by Seq
	byID      map[string]docmate.Chunk
	vectors   map[string][]float32
	rebuild   map[string]bool // documents flagged by reconciliation

	embedder docmate.EmbeddingProvider
	retry    provider.RetryConfig
	logger   log.Logger
}

// Option configures an Index
type Option func(*Index)

// WithLogger sets the index logger
func WithLogger(l log.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// WithRetry sets the retry policy applied to embedding calls
func WithRetry(cfg provider.RetryConfig) Option {
	return func(ix *Index) { ix.retry = cfg }
}

// New creates an empty index backed by the given embedding provider.
func New(embedder docmate.EmbeddingProvider, opts ...Option) *Index {
	ix := &Index{
		docs:      make(map[string]docmate.Document),
		docChunks: make(map[string][]docmate.Chunk),
		byID:      make(map[string]docmate.Chunk),
		vectors:   make(map[string][]float32),
		rebuild:   make(map[string]bool),
		embedder:  embedder,
		retry:     provider.DefaultRetryConfig(),
		logger:    log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Add embeds every chunk and commits the document atomically: either all
// chunk vectors become visible together or none do. An existing document
// with the same id is replaced in the same commit.
func (ix *Index) Add(ctx context.Context, doc docmate.Document, chunks []docmate.Chunk) error {
	if ix.embedder == nil {
		return fmt.Errorf("index: no embedding provider configured")
	}

	// Embed outside the lock; readers keep serving the previous state.
	vectors := make(map[string][]float32, len(chunks))
	for _, ch := range chunks {
		vec, err := provider.Do(ctx, ix.retry, func(ctx context.Context) ([]float32, error) {
			return ix.embedder.Embed(ctx, ch.Text)
		})
		if err != nil {
			return fmt.Errorf("index: embedding chunk %s: %w", ch.ID, err)
		}
		vectors[ch.ID] = vec
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(doc.ID)
	ix.docs[doc.ID] = doc
	ix.docChunks[doc.ID] = append([]docmate.Chunk(nil), chunks...)
	for _, ch := range chunks {
		ix.byID[ch.ID] = ch
		ix.vectors[ch.ID] = vectors[ch.ID]
	}
	delete(ix.rebuild, doc.ID)

	ix.logger.Info("indexed document %s: %d chunks", doc.ID, len(chunks))
	return nil
}

// Remove deletes all entries for the document atomically. Removing an
// unknown document is a no-op.
func (ix *Index) Remove(documentID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(documentID)
	delete(ix.rebuild, documentID)
}

func (ix *Index) removeLocked(documentID string) {
	for _, ch := range ix.docChunks[documentID] {
		delete(ix.byID, ch.ID)
		delete(ix.vectors, ch.ID)
	}
	delete(ix.docChunks, documentID)
	delete(ix.docs, documentID)
}

// Query returns up to k nearest chunks by cosine similarity, scores
// normalized to [0,1], ordered by descending score with ties broken by
// ascending chunk id. Results only reference chunks present in the chunk
// store.
func (ix *Index) Query(vector []float32, k int) ([]docmate.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("index: k must be positive, got %d", k)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	results := make([]docmate.RetrievalResult, 0, len(ix.vectors))
	for id, vec := range ix.vectors {
		ch, ok := ix.byID[id]
		if !ok {
			// Orphan vector; reconciliation will flag the document.
			continue
		}
		results = append(results, docmate.RetrievalResult{
			Chunk: ch,
			Score: normalizedCosine(vector, vec),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// normalizedCosine maps cosine similarity from [-1,1] to [0,1]. Vectors
// are not assumed unit-length.
func normalizedCosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	score := (cos + 1) / 2
	return math.Min(1, math.Max(0, score))
}

// HasDocument reports whether the document is indexed.
func (ix *Index) HasDocument(documentID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.docs[documentID]
	return ok
}

// Document returns the stored document metadata.
func (ix *Index) Document(documentID string) (docmate.Document, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	doc, ok := ix.docs[documentID]
	if !ok {
		return docmate.Document{}, fmt.Errorf("index: %s: %w", documentID, docmate.ErrDocumentNotFound)
	}
	return doc, nil
}

// Documents lists indexed documents sorted by id.
func (ix *Index) Documents() []docmate.Document {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]docmate.Document, 0, len(ix.docs))
	for _, doc := range ix.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Chunks returns the ordered chunks of a document.
func (ix *Index) Chunks(documentID string) ([]docmate.Chunk, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	chunks, ok := ix.docChunks[documentID]
	if !ok {
		return nil, fmt.Errorf("index: %s: %w", documentID, docmate.ErrDocumentNotFound)
	}
	return append([]docmate.Chunk(nil), chunks...), nil
}

// Stats describes the index contents.
type Stats struct {
	Documents int       `json:"documents"`
	Chunks    int       `json:"chunks"`
	Vectors   int       `json:"vectors"`
	Dimension int       `json:"dimension"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetStats returns counts and the embedding dimension.
func (ix *Index) GetStats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	st := Stats{
		Documents: len(ix.docs),
		Chunks:    len(ix.byID),
		Vectors:   len(ix.vectors),
		UpdatedAt: time.Now(),
	}
	for _, vec := range ix.vectors {
		st.Dimension = len(vec)
		break
	}
	return st
}
