// Package sqlite persists queue state in a local SQLite database
// (modernc.org/sqlite, no CGO). One database holds the state for any
// number of trees.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/ports"
)

// Store implements ports.QueueStore on a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs
// migrations. Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string) (*Store, error) {
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// WAL enables one writer + many readers; busy_timeout avoids
	// "database is locked" flakiness with concurrent local processes.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS queue_state (
		tree_id          TEXT PRIMARY KEY,
		payload_json     TEXT NOT NULL,
		updated_at_unixms INTEGER NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the queue state for a tree.
func (s *Store) Save(ctx context.Context, treeID string, state *ports.QueueState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO queue_state (tree_id, payload_json, updated_at_unixms)
		VALUES (?, ?, ?)
		ON CONFLICT(tree_id) DO UPDATE SET
			payload_json = excluded.payload_json,
			updated_at_unixms = excluded.updated_at_unixms;`,
		treeID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save queue state: %w", err)
	}
	return nil
}

// Load reads the queue state for a tree.
func (s *Store) Load(ctx context.Context, treeID string) (*ports.QueueState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM queue_state WHERE tree_id = ?;`, treeID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to load queue state: %w", err)
	}

	var state ports.QueueState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue state: %w", err)
	}
	return &state, nil
}

// Delete removes the persisted state for a tree.
func (s *Store) Delete(ctx context.Context, treeID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_state WHERE tree_id = ?;`, treeID); err != nil {
		return fmt.Errorf("failed to delete queue state: %w", err)
	}
	return nil
}
