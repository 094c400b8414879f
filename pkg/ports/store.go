package ports

import (
	"context"

	"github.com/canopyhq/canopy/pkg/domain"
)

// QueueState is the durable footprint of one client session, keyed by
// tree identifier: the buffered unconfirmed events (FIFO order) and the
// last server version the client has seen.
type QueueState struct {
	TreeID        string         `json:"tree_id"`
	Events        []domain.Event `json:"events"`
	LastServerSeq uint64         `json:"last_server_seq"`
}

// Clone returns a copy whose event slice is independent of the original.
func (s *QueueState) Clone() *QueueState {
	out := &QueueState{TreeID: s.TreeID, LastServerSeq: s.LastServerSeq}
	if s.Events != nil {
		out.Events = make([]domain.Event, len(s.Events))
		copy(out.Events, s.Events)
	}
	return out
}

// QueueStore persists queue state so that no locally originated event
// is lost across a process restart. The offline queue calls Save on
// every enqueue and drain.
type QueueStore interface {
	// Save persists the state for a tree.
	Save(ctx context.Context, treeID string, state *QueueState) error

	// Load retrieves the state for a tree.
	// Returns domain.ErrStateNotFound if nothing was persisted.
	Load(ctx context.Context, treeID string) (*QueueState, error)

	// Delete removes the persisted state for a tree.
	Delete(ctx context.Context, treeID string) error
}
