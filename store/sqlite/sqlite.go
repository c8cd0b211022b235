// Package sqlite persists index snapshots in a SQLite database, the
// default on-disk backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/docmate-ai/docmate"
	"github.com/docmate-ai/docmate/store/snapshot"
)

// SqliteSnapshotStore implements snapshot.Store using SQLite.
type SqliteSnapshotStore struct {
	db        *sql.DB
	tableName string
}

var _ snapshot.Store = (*SqliteSnapshotStore)(nil)

// SqliteOptions configuration for the SQLite connection.
type SqliteOptions struct {
	Path      string
	TableName string // Default "snapshots"
}

// NewSqliteSnapshotStore opens (and if needed creates) the database at
// the given path.
func NewSqliteSnapshotStore(opts SqliteOptions) (*SqliteSnapshotStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "snapshots"
	}

	store := &SqliteSnapshotStore{
		db:        db,
		tableName: tableName,
	}

	if err := store.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// InitSchema creates the snapshot table if it doesn't exist. One row per
// document: metadata and chunk records as JSON.
func (s *SqliteSnapshotStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			records TEXT NOT NULL
		);
	`, s.tableName)

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SqliteSnapshotStore) Close() error {
	return s.db.Close()
}

// SaveDocument upserts the document's snapshot.
func (s *SqliteSnapshotStore) SaveDocument(ctx context.Context, snap snapshot.DocumentSnapshot) error {
	docJSON, err := json.Marshal(snap.Document)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	recordsJSON, err := json.Marshal(snap.Records)
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (document_id, document, records)
		VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			document = excluded.document,
			records = excluded.records
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, snap.Document.ID, string(docJSON), string(recordsJSON)); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// DeleteDocument removes the document's snapshot; unknown ids are a no-op.
func (s *SqliteSnapshotStore) DeleteDocument(ctx context.Context, documentID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE document_id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, documentID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// LoadAll returns every stored document snapshot.
func (s *SqliteSnapshotStore) LoadAll(ctx context.Context) ([]snapshot.DocumentSnapshot, error) {
	query := fmt.Sprintf("SELECT document, records FROM %s", s.tableName)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []snapshot.DocumentSnapshot
	for rows.Next() {
		var docJSON, recordsJSON string
		if err := rows.Scan(&docJSON, &recordsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		var doc docmate.Document
		if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document: %w", err)
		}
		snap := snapshot.DocumentSnapshot{Document: doc}
		if err := json.Unmarshal([]byte(recordsJSON), &snap.Records); err != nil {
			return nil, fmt.Errorf("failed to unmarshal records: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snaps, nil
}
