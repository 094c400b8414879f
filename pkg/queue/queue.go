// Package queue implements the offline queue: a FIFO buffer of locally
// originated events awaiting transmission to the backend.
//
// The queue knows nothing about the network. It only owns pending-event
// storage, persisted through a ports.QueueStore on every enqueue and
// drain so that no event is lost across a process restart.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/ports"
)

// Queue buffers unconfirmed local events for one tree. Not safe for
// concurrent use; the session loop serializes access.
type Queue struct {
	treeID string
	store  ports.QueueStore

	events        []domain.Event
	lastServerSeq uint64
}

// Open creates a queue for treeID, restoring any state persisted by a
// previous process.
func Open(ctx context.Context, treeID string, store ports.QueueStore) (*Queue, error) {
	q := &Queue{treeID: treeID, store: store}
	state, err := store.Load(ctx, treeID)
	if err != nil {
		if errors.Is(err, domain.ErrStateNotFound) {
			return q, nil
		}
		return nil, fmt.Errorf("restore queue for %q: %w", treeID, err)
	}
	q.events = state.Events
	q.lastServerSeq = state.LastServerSeq
	return q, nil
}

// Len returns the number of buffered events.
func (q *Queue) Len() int { return len(q.events) }

// Pending returns a copy of the buffered events in FIFO order without
// removing them.
func (q *Queue) Pending() []domain.Event {
	out := make([]domain.Event, len(q.events))
	copy(out, q.events)
	return out
}

// LastServerSeq returns the last server version this client has seen.
func (q *Queue) LastServerSeq() uint64 { return q.lastServerSeq }

// Enqueue appends an event and persists the queue.
func (q *Queue) Enqueue(ctx context.Context, e domain.Event) error {
	q.events = append(q.events, e)
	if err := q.save(ctx); err != nil {
		// Roll the append back so memory and durable state agree.
		q.events = q.events[:len(q.events)-1]
		return err
	}
	return nil
}

// Drain removes and returns all buffered events in their original
// order, persisting the now-empty queue. Returns domain.ErrQueueEmpty
// when nothing is buffered.
func (q *Queue) Drain(ctx context.Context) ([]domain.Event, error) {
	if len(q.events) == 0 {
		return nil, domain.ErrQueueEmpty
	}
	drained := q.events
	q.events = nil
	if err := q.save(ctx); err != nil {
		q.events = drained
		return nil, err
	}
	return drained, nil
}

// Requeue puts events back at the front of the buffer, preserving their
// order ahead of anything enqueued since. Used when a drained batch
// could not be submitted.
func (q *Queue) Requeue(ctx context.Context, events []domain.Event) error {
	restored := make([]domain.Event, 0, len(events)+len(q.events))
	restored = append(restored, events...)
	restored = append(restored, q.events...)
	prior := q.events
	q.events = restored
	if err := q.save(ctx); err != nil {
		q.events = prior
		return err
	}
	return nil
}

// SetLastServerSeq records the newest server version seen and persists it.
func (q *Queue) SetLastServerSeq(ctx context.Context, seq uint64) error {
	prior := q.lastServerSeq
	q.lastServerSeq = seq
	if err := q.save(ctx); err != nil {
		q.lastServerSeq = prior
		return err
	}
	return nil
}

func (q *Queue) save(ctx context.Context) error {
	state := &ports.QueueState{
		TreeID:        q.treeID,
		Events:        q.events,
		LastServerSeq: q.lastServerSeq,
	}
	if err := q.store.Save(ctx, q.treeID, state.Clone()); err != nil {
		return fmt.Errorf("persist queue for %q: %w", q.treeID, err)
	}
	return nil
}
