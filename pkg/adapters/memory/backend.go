package memory

import (
	"context"
	"sync"
	"time"

	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/ports"
)

// Backend is an in-memory authoritative event store. It keeps one
// append-only log per tree and applies the batch contract: a submission
// whose lastKnown version is behind the head is refused with the events
// the client has not seen.
//
// It doubles as the reference server implementation (wrapped by the
// HTTP adapter) and as a test double. Safe for concurrent use.
type Backend struct {
	mu   sync.Mutex
	logs map[string][]domain.Event

	watchers map[string][]chan domain.Event
}

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{
		logs:     make(map[string][]domain.Event),
		watchers: make(map[string][]chan domain.Event),
	}
}

// Version returns the head version of a tree's log.
func (b *Backend) Version(treeID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.logs[treeID]))
}

// Submit applies the batch contract from the persistence interface:
// {lastKnownServerVersion, events} -> accepted or divergent history.
func (b *Backend) Submit(ctx context.Context, treeID string, lastKnown uint64, events []domain.Event) (*ports.SubmitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	log := b.logs[treeID]
	head := uint64(len(log))
	if lastKnown < head {
		// The client is behind: refuse and hand back the missing history.
		missing := make([]domain.Event, head-lastKnown)
		copy(missing, log[lastKnown:])
		return &ports.SubmitResult{Accepted: false, ServerEvents: missing}, nil
	}

	var accepted []domain.Event
	for _, e := range events {
		e.Origin = domain.OriginRemote
		e.Seq = head + 1
		e.Timestamp = e.Timestamp.UTC()
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		log = append(log, e)
		head++
		accepted = append(accepted, e)
	}
	b.logs[treeID] = log

	for _, e := range accepted {
		for _, ch := range b.watchers[treeID] {
			select {
			case ch <- e:
			default: // slow watcher, drop rather than block the store
			}
		}
	}
	return &ports.SubmitResult{Accepted: true, NewVersion: head}, nil
}

// Events returns the authoritative events after the given version.
func (b *Backend) Events(ctx context.Context, treeID string, after uint64) ([]domain.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	log := b.logs[treeID]
	if after >= uint64(len(log)) {
		return nil, nil
	}
	out := make([]domain.Event, uint64(len(log))-after)
	copy(out, log[after:])
	return out, nil
}

// Watch registers a channel that receives every event accepted for
// treeID after the call. The returned cancel func unregisters it.
func (b *Backend) Watch(treeID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 64)

	b.mu.Lock()
	b.watchers[treeID] = append(b.watchers[treeID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		watchers := b.watchers[treeID]
		for i, c := range watchers {
			if c == ch {
				b.watchers[treeID] = append(watchers[:i], watchers[i+1:]...)
				close(c)
				return
			}
		}
	}
	return ch, cancel
}

var _ ports.Backend = (*Backend)(nil)
