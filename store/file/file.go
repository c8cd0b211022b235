// Package file persists index snapshots as one JSON file per document in
// a directory. Suited to single-node deployments and tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docmate-ai/docmate/store/snapshot"
)

// FileSnapshotStore implements snapshot.Store over a directory.
type FileSnapshotStore struct {
	dir string
}

var _ snapshot.Store = (*FileSnapshotStore)(nil)

// NewFileSnapshotStore creates the directory if needed.
func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileSnapshotStore{dir: dir}, nil
}

// path maps a document id to its file, escaping separators so ids cannot
// reach outside the directory.
func (s *FileSnapshotStore) path(documentID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(documentID)
	return filepath.Join(s.dir, safe+".json")
}

// SaveDocument writes the snapshot atomically via a temp file rename.
func (s *FileSnapshotStore) SaveDocument(ctx context.Context, snap snapshot.DocumentSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	target := s.path(snap.Document.ID)
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}
	return nil
}

// DeleteDocument removes the document's file; a missing file is a no-op.
func (s *FileSnapshotStore) DeleteDocument(ctx context.Context, documentID string) error {
	if err := os.Remove(s.path(documentID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}
	return nil
}

// LoadAll reads every snapshot file in the directory.
func (s *FileSnapshotStore) LoadAll(ctx context.Context) ([]snapshot.DocumentSnapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var snaps []snapshot.DocumentSnapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot %s: %w", entry.Name(), err)
		}
		var snap snapshot.DocumentSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", entry.Name(), err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Close is a no-op; files are closed per operation.
func (s *FileSnapshotStore) Close() error { return nil }
