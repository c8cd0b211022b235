// Package postgres persists index snapshots in PostgreSQL for shared or
// multi-node deployments.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docmate-ai/docmate"
	"github.com/docmate-ai/docmate/store/snapshot"
)

// DBPool defines the interface for the database connection pool.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresSnapshotStore implements snapshot.Store using PostgreSQL.
type PostgresSnapshotStore struct {
	pool      DBPool
	tableName string
}

var _ snapshot.Store = (*PostgresSnapshotStore)(nil)

// PostgresOptions configuration for the Postgres connection.
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "snapshots"
}

// NewPostgresSnapshotStore creates a new Postgres snapshot store.
func NewPostgresSnapshotStore(ctx context.Context, opts PostgresOptions) (*PostgresSnapshotStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "snapshots"
	}

	return &PostgresSnapshotStore{
		pool:      pool,
		tableName: tableName,
	}, nil
}

// NewPostgresSnapshotStoreWithPool creates a store over an existing pool.
// Useful for testing with mocks.
func NewPostgresSnapshotStoreWithPool(pool DBPool, tableName string) *PostgresSnapshotStore {
	if tableName == "" {
		tableName = "snapshots"
	}
	return &PostgresSnapshotStore{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the snapshot table if it doesn't exist.
func (s *PostgresSnapshotStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT PRIMARY KEY,
			document JSONB NOT NULL,
			records JSONB NOT NULL
		);
	`, s.tableName)

	_, err := s.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresSnapshotStore) Close() error {
	s.pool.Close()
	return nil
}

// SaveDocument upserts the document's snapshot.
func (s *PostgresSnapshotStore) SaveDocument(ctx context.Context, snap snapshot.DocumentSnapshot) error {
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
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id) DO UPDATE SET
			document = EXCLUDED.document,
			records = EXCLUDED.records
	`, s.tableName)

	if _, err := s.pool.Exec(ctx, query, snap.Document.ID, docJSON, recordsJSON); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// DeleteDocument removes the document's snapshot; unknown ids are a no-op.
func (s *PostgresSnapshotStore) DeleteDocument(ctx context.Context, documentID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, documentID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// LoadAll returns every stored document snapshot.
func (s *PostgresSnapshotStore) LoadAll(ctx context.Context) ([]snapshot.DocumentSnapshot, error) {
	query := fmt.Sprintf("SELECT document, records FROM %s", s.tableName)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []snapshot.DocumentSnapshot
	for rows.Next() {
		var docJSON, recordsJSON []byte
		if err := rows.Scan(&docJSON, &recordsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		var doc docmate.Document
		if err := json.Unmarshal(docJSON, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document: %w", err)
		}
		snap := snapshot.DocumentSnapshot{Document: doc}
		if err := json.Unmarshal(recordsJSON, &snap.Records); err != nil {
			return nil, fmt.Errorf("failed to unmarshal records: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snaps, nil
}
