// Package memory provides in-memory adapters: a QueueStore for tests
// and ephemeral sessions, and a Backend that serves as the reference
// authoritative event store.
package memory

import (
	"context"
	"sync"

	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/ports"
)

// Store implements ports.QueueStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*ports.QueueState
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*ports.QueueState),
	}
}

// Save persists the state in memory.
func (s *Store) Save(ctx context.Context, treeID string, state *ports.QueueState) error {
	// Copy on write so the caller can't mutate stored state by pointer.
	copied := state.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[treeID] = copied
	return nil
}

// Load retrieves the state from memory.
func (s *Store) Load(ctx context.Context, treeID string) (*ports.QueueState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[treeID]
	if !ok {
		return nil, domain.ErrStateNotFound
	}
	return state.Clone(), nil
}

// Delete removes the state.
func (s *Store) Delete(ctx context.Context, treeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, treeID)
	return nil
}
