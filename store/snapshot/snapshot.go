// Package snapshot defines the persisted index snapshot: per-chunk records
// carrying the embedding vector and provenance so an index can be restored
// without re-invoking the embedding provider.
package snapshot

import (
	"context"

	"github.com/docmate-ai/docmate"
)

// Record is one persisted index entry.
type Record struct {
	ChunkID     string    `json:"chunk_id"`
	DocumentID  string    `json:"document_id"`
	Vector      []float32 `json:"vector"`
	Excerpt     string    `json:"excerpt"`
	OffsetStart int       `json:"offset_start"`
	OffsetEnd   int       `json:"offset_end"`
}

// DocumentSnapshot bundles a document's metadata with its records.
type DocumentSnapshot struct {
	Document docmate.Document `json:"document"`
	Records  []Record         `json:"records"`
}

// Store persists index snapshots at document granularity.
type Store interface {
	// SaveDocument replaces the stored snapshot of one document.
	SaveDocument(ctx context.Context, snap DocumentSnapshot) error

	// DeleteDocument removes the stored snapshot of one document.
	DeleteDocument(ctx context.Context, documentID string) error

	// LoadAll returns every stored document snapshot.
	LoadAll(ctx context.Context) ([]DocumentSnapshot, error)

	// Close releases the underlying storage.
	Close() error
}
