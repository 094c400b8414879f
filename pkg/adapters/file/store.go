// Package file persists queue state as JSON files on the local
// filesystem, one file per tree.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/ports"
)

// Store implements ports.QueueStore using the local filesystem.
type Store struct {
	BasePath string
}

// NewStore creates a new Store with the given base path.
// If basePath is empty, it defaults to ".canopy/queues".
func NewStore(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".canopy", "queues")
	}
	return &Store{BasePath: basePath}
}

// Save persists the queue state to a JSON file.
func (f *Store) Save(ctx context.Context, treeID string, state *ports.QueueState) error {
	if treeID == "" {
		return fmt.Errorf("treeID cannot be empty")
	}

	if err := os.MkdirAll(f.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure queue directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	// Write to a temp file first so a crash mid-write can't truncate
	// the only durable copy of the unconfirmed events.
	path := f.path(treeID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace queue file: %w", err)
	}
	return nil
}

// Load retrieves the queue state from a JSON file.
func (f *Store) Load(ctx context.Context, treeID string) (*ports.QueueState, error) {
	if treeID == "" {
		return nil, fmt.Errorf("treeID cannot be empty")
	}

	data, err := os.ReadFile(f.path(treeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}

	var state ports.QueueState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue state: %w", err)
	}
	return &state, nil
}

// Delete removes the persisted state.
func (f *Store) Delete(ctx context.Context, treeID string) error {
	err := os.Remove(f.path(treeID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete queue file: %w", err)
	}
	return nil
}

func (f *Store) path(treeID string) string {
	return filepath.Join(f.BasePath, treeID+".json")
}
