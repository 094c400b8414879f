// Package eventlog implements the append-only event log that is the
// source of truth for how a tree reached its current state.
//
// Every successfully applied event is recorded with the resulting tree
// version (one integer counter, incremented once per applied event).
// The log is never rewritten; reconciliation produces a new Log and
// retains the old one for audit and fork purposes.
package eventlog

import (
	"encoding/json"
	"fmt"

	"github.com/canopyhq/canopy/pkg/domain"
)

// DefaultCheckpointInterval is how many applied events may elapse
// between retained tree snapshots.
const DefaultCheckpointInterval = 64

// Entry is one applied event together with the version it produced and
// the effect it displaced (used to compute compensating events).
type Entry struct {
	Event   domain.Event  `json:"event"`
	Version uint64        `json:"version"`
	Effect  domain.Effect `json:"effect,omitempty"`
}

// Log is an ordered, append-only sequence of applied events plus the
// live tree they produce. Not safe for concurrent use; the session loop
// serializes access.
type Log struct {
	tree        *domain.Tree
	entries     []Entry
	checkpoints map[uint64]*domain.Tree
	interval    int
}

// Option configures a Log.
type Option func(*Log)

// WithCheckpointInterval sets how often snapshots are retained. Values
// below 1 are ignored.
func WithCheckpointInterval(n int) Option {
	return func(l *Log) {
		if n >= 1 {
			l.interval = n
		}
	}
}

// New creates an empty log over the given initial tree. The initial
// snapshot is retained as the version-0 checkpoint.
func New(tree *domain.Tree, opts ...Option) *Log {
	l := &Log{
		tree:        tree,
		checkpoints: map[uint64]*domain.Tree{0: tree.Clone()},
		interval:    DefaultCheckpointInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Tree returns the live tree. Callers that hand state to presentation
// collaborators must Clone it first.
func (l *Log) Tree() *domain.Tree { return l.tree }

// Version returns the current tree version (0 for an empty log).
func (l *Log) Version() uint64 { return uint64(len(l.entries)) }

// Append validates the event against the current tree, applies it, and
// records it under the next version number. Validation and mutation are
// atomic: on error the tree is untouched and nothing is recorded.
//
// If the event's Seq is zero it is stamped with the new version, so
// local sequence numbers stay monotonic without a second counter.
func (l *Log) Append(e domain.Event) (Entry, error) {
	eff, err := domain.Apply(l.tree, e)
	if err != nil {
		return Entry{}, err
	}
	version := l.Version() + 1
	if e.Seq == 0 {
		e.Seq = version
	}
	entry := Entry{Event: e, Version: version, Effect: eff}
	l.entries = append(l.entries, entry)
	if l.interval > 0 && version%uint64(l.interval) == 0 {
		l.checkpoints[version] = l.tree.Clone()
	}
	return entry, nil
}

// At returns the entry that produced the given version.
func (l *Log) At(version uint64) (Entry, error) {
	if version == 0 || version > l.Version() {
		return Entry{}, fmt.Errorf("version %d out of range (log at %d)", version, l.Version())
	}
	return l.entries[version-1], nil
}

// ReplayFrom returns the entries applied after the given version, in
// order. ReplayFrom(0) returns the whole log.
func (l *Log) ReplayFrom(version uint64) []Entry {
	if version >= l.Version() {
		return nil
	}
	out := make([]Entry, l.Version()-version)
	copy(out, l.entries[version:])
	return out
}

// LocalAfter returns the local-origin events with sequence numbers
// strictly greater than seq, in log order. This is the unconfirmed
// sequence handed to reconciliation.
func (l *Log) LocalAfter(seq uint64) []domain.Event {
	var out []domain.Event
	for _, entry := range l.entries {
		if entry.Event.Origin == domain.OriginLocal && entry.Event.Seq > seq {
			out = append(out, entry.Event)
		}
	}
	return out
}

// SnapshotAt reconstructs the tree as it was at a past version by
// replaying from the nearest retained checkpoint. The live tree is not
// touched.
func (l *Log) SnapshotAt(version uint64) (*domain.Tree, error) {
	if version > l.Version() {
		return nil, fmt.Errorf("version %d out of range (log at %d)", version, l.Version())
	}

	// Nearest checkpoint at or below the requested version.
	var base uint64
	for v := range l.checkpoints {
		if v <= version && v >= base {
			base = v
		}
	}
	tree := l.checkpoints[base].Clone()
	for _, entry := range l.entries[base:version] {
		if _, err := domain.Apply(tree, entry.Event); err != nil {
			return nil, fmt.Errorf("replay to version %d: %w", version, err)
		}
	}
	return tree, nil
}

// MarshalJSON serializes the log as its initial snapshot plus entries.
// Replaying the entries over the snapshot reproduces the live tree.
func (l *Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(logWire{
		Initial: l.checkpoints[0],
		Entries: l.entries,
	})
}

// UnmarshalJSON rebuilds the log by replaying its entries over the
// initial snapshot, re-deriving checkpoints along the way.
func (l *Log) UnmarshalJSON(data []byte) error {
	var wire logWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Initial == nil {
		return fmt.Errorf("event log: missing initial snapshot")
	}
	rebuilt := New(wire.Initial.Clone())
	if l.interval >= 1 {
		rebuilt.interval = l.interval
	}
	for _, entry := range wire.Entries {
		if _, err := rebuilt.Append(entry.Event); err != nil {
			return fmt.Errorf("event log: replay version %d: %w", entry.Version, err)
		}
	}
	*l = *rebuilt
	return nil
}

type logWire struct {
	Initial *domain.Tree `json:"initial"`
	Entries []Entry      `json:"entries"`
}
