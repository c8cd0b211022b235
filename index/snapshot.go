package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/docmate-ai/docmate"
	"github.com/docmate-ai/docmate/store/snapshot"
)

// Snapshot writes the current state of one document to the store. The
// in-memory state is copied under the read lock; the store write happens
// with no index lock held.
func (ix *Index) Snapshot(ctx context.Context, st snapshot.Store, documentID string) error {
	ix.mu.RLock()
	doc, ok := ix.docs[documentID]
	if !ok {
		ix.mu.RUnlock()
		return fmt.Errorf("index: snapshot %s: %w", documentID, docmate.ErrDocumentNotFound)
	}
	snap := snapshot.DocumentSnapshot{Document: doc}
	for _, ch := range ix.docChunks[documentID] {
		snap.Records = append(snap.Records, snapshot.Record{
			ChunkID:     ch.ID,
			DocumentID:  ch.DocumentID,
			Vector:      append([]float32(nil), ix.vectors[ch.ID]...),
			Excerpt:     ch.Text,
			OffsetStart: ch.Start,
			OffsetEnd:   ch.End,
		})
	}
	ix.mu.RUnlock()

	return st.SaveDocument(ctx, snap)
}

// Restore rebuilds index state from the store without touching the
// embedding provider. Existing documents with the same ids are replaced.
func (ix *Index) Restore(ctx context.Context, st snapshot.Store) error {
	snaps, err := st.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("index: loading snapshots: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, snap := range snaps {
		ix.removeLocked(snap.Document.ID)
		ix.docs[snap.Document.ID] = snap.Document

		chunks := make([]docmate.Chunk, 0, len(snap.Records))
		for seq, rec := range snap.Records {
			ch := docmate.Chunk{
				ID:         rec.ChunkID,
				DocumentID: rec.DocumentID,
				Seq:        seq,
				Text:       rec.Excerpt,
				Start:      rec.OffsetStart,
				End:        rec.OffsetEnd,
				Chars:      len(rec.Excerpt),
			}
			chunks = append(chunks, ch)
			ix.byID[ch.ID] = ch
			ix.vectors[ch.ID] = append([]float32(nil), rec.Vector...)
		}
		ix.docChunks[snap.Document.ID] = chunks
	}

	ix.logger.Info("restored %d documents from snapshot", len(snaps))
	return nil
}

// Reconcile compares the chunk store against the vector entries. Each
// mismatched document is flagged for rebuild and reported; consistent
// documents are untouched and keep serving queries.
func (ix *Index) Reconcile() []error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	flagged := map[string]string{}

	for docID, chunks := range ix.docChunks {
		for _, ch := range chunks {
			if _, ok := ix.vectors[ch.ID]; !ok {
				flagged[docID] = fmt.Sprintf("chunk %s has no vector", ch.ID)
				break
			}
		}
	}
	for id := range ix.vectors {
		ch, ok := ix.byID[id]
		if !ok {
			// Orphan vector with no chunk at all; it cannot be attributed
			// to a live document, so drop it outright.
			delete(ix.vectors, id)
			continue
		}
		if _, ok := ix.docs[ch.DocumentID]; !ok {
			flagged[ch.DocumentID] = fmt.Sprintf("vector %s belongs to unknown document", id)
		}
	}

	ids := make([]string, 0, len(flagged))
	for id := range flagged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		ix.rebuild[id] = true
		ix.logger.Warn("index inconsistency for document %s: %s", id, flagged[id])
		errs = append(errs, &docmate.IndexInconsistencyError{DocumentID: id, Reason: flagged[id]})
	}
	return errs
}

// NeedsRebuild reports whether reconciliation flagged the document.
func (ix *Index) NeedsRebuild(documentID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.rebuild[documentID]
}
