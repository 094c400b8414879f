// Package reconcile decides, when local and server histories have
// diverged, whether they can be merged or must be forked.
//
// The engine is a small state machine:
//
//	Synced -> Diverged -> {Merging, Forking} -> Synced
//
// Merge replays the server's events first, then reapplies each
// unconfirmed local event in original order. Any conflict aborts the
// merge and forks instead: the local events are replayed in isolation
// over the common-ancestor snapshot into a brand-new tree with a fresh
// identifier namespace, while the original tree is reset to the
// server's authoritative state. Both outcomes are total; every call
// terminates back in Synced.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/canopyhq/canopy/internal/logging"
	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/eventlog"
)

// Phase is the engine's position in the reconciliation state machine.
type Phase string

const (
	PhaseSynced   Phase = "synced"
	PhaseDiverged Phase = "diverged"
	PhaseMerging  Phase = "merging"
	PhaseForking  Phase = "forking"
)

// Granularity controls how NodeUpdated/NodeUpdated collisions are
// judged.
type Granularity int

const (
	// GranularityField conflicts only when two updates touch the same
	// field of the same node. Least surprising; the default.
	GranularityField Granularity = iota
	// GranularityNode conflicts whenever two updates touch the same
	// node at all.
	GranularityNode
)

// Outcome names how a reconciliation ended.
type Outcome string

const (
	// OutcomeNoop: the server had nothing new; no action taken.
	OutcomeNoop Outcome = "noop"
	// OutcomeFastForward: server events applied, no local events pending.
	OutcomeFastForward Outcome = "fast_forward"
	// OutcomeMerged: server events applied and all local events
	// reapplied cleanly on top.
	OutcomeMerged Outcome = "merged"
	// OutcomeForked: a conflict split the histories into two trees.
	OutcomeForked Outcome = "forked"
)

// Fork is the divergent side of a forked reconciliation: the common
// ancestor plus the local unconfirmed events, replayed in isolation and
// remapped into a fresh identifier namespace. The fork has no name
// until the user supplies one via Rename.
type Fork struct {
	Tree *domain.Tree
	Log  *eventlog.Log
	// Mapping records old node id -> new node id, so hosts can carry
	// selections or references over to the fork.
	Mapping map[domain.NodeID]domain.NodeID
}

// Rename gives the forked tree its user-chosen name.
func (f *Fork) Rename(name string) {
	f.Tree.SetID(name)
}

// Result is the terminal state of one reconciliation. Log is the new
// event log for the primary tree (nil for OutcomeNoop: keep the current
// one). Fork is non-nil only for OutcomeForked. Conflict carries the
// reason a merge was abandoned.
type Result struct {
	Outcome  Outcome
	Log      *eventlog.Log
	Fork     *Fork
	Conflict *domain.ConflictError
	// Synced is the version within Log up to which history is
	// server-confirmed; the snapshot there is the common ancestor for
	// the next reconciliation.
	Synced uint64
}

// Engine performs reconciliation. Safe to reuse across calls; it holds
// no per-tree state beyond the transient phase.
type Engine struct {
	logger      *slog.Logger
	granularity Granularity
	newID       func() domain.NodeID
	phase       Phase
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a structured logger for phase transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithGranularity sets the update-conflict granularity.
func WithGranularity(g Granularity) Option {
	return func(e *Engine) { e.granularity = g }
}

// WithIDGenerator overrides fork id generation (tests use fixed ids).
func WithIDGenerator(f func() domain.NodeID) Option {
	return func(e *Engine) { e.newID = f }
}

// NewEngine creates a reconciliation engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:      logging.NewNop(),
		granularity: GranularityField,
		newID:       func() domain.NodeID { return domain.NodeID(uuid.NewString()) },
		phase:       PhaseSynced,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Phase returns the engine's current position in the state machine.
func (e *Engine) Phase() Phase { return e.phase }

func (e *Engine) transition(ctx context.Context, to Phase) {
	e.logger.InfoContext(ctx, "reconciliation phase", "from", string(e.phase), "to", string(to))
	e.phase = to
}

// Reconcile runs the full state machine over one divergence.
//
// ancestor is the tree at the last server-acknowledged version (the
// common ancestor of both histories), locals are the client's
// unconfirmed events in original order, and server holds the
// authoritative events the client has not yet seen.
func (e *Engine) Reconcile(ctx context.Context, ancestor *domain.Tree, locals, server []domain.Event) (*Result, error) {
	defer e.transition(ctx, PhaseSynced)

	// Up to date: the locals stay queued for plain submission.
	if len(server) == 0 {
		return &Result{Outcome: OutcomeNoop}, nil
	}

	e.transition(ctx, PhaseDiverged)

	if len(locals) == 0 {
		log, err := e.replay(ancestor.Clone(), server)
		if err != nil {
			return nil, err
		}
		e.logger.InfoContext(ctx, "fast-forward applied", "server_events", len(server))
		return &Result{Outcome: OutcomeFastForward, Log: log, Synced: log.Version()}, nil
	}

	e.transition(ctx, PhaseMerging)

	merged, conflict, err := e.merge(ancestor, locals, server)
	if err != nil {
		return nil, err
	}
	if conflict == nil {
		e.logger.InfoContext(ctx, "merge succeeded",
			"server_events", len(server), "local_events", len(locals))
		return &Result{Outcome: OutcomeMerged, Log: merged, Synced: uint64(len(server))}, nil
	}

	e.transition(ctx, PhaseForking)
	e.logger.WarnContext(ctx, "merge aborted, forking", "err", conflict)

	fork, err := e.fork(ancestor, locals)
	if err != nil {
		return nil, err
	}
	// The primary tree is reset to the server's authoritative state.
	serverLog, err := e.replay(ancestor.Clone(), server)
	if err != nil {
		return nil, err
	}
	return &Result{
		Outcome:  OutcomeForked,
		Log:      serverLog,
		Fork:     fork,
		Conflict: conflict,
		Synced:   serverLog.Version(),
	}, nil
}

// replay builds a fresh log over tree and appends events in order.
func (e *Engine) replay(tree *domain.Tree, events []domain.Event) (*eventlog.Log, error) {
	log := eventlog.New(tree)
	for _, ev := range events {
		if _, err := log.Append(ev); err != nil {
			return nil, err
		}
	}
	return log, nil
}

// merge replays server events over the ancestor and then attempts each
// local event in original order. The first conflict aborts; a non-nil
// ConflictError is returned instead of a partially merged log.
func (e *Engine) merge(ancestor *domain.Tree, locals, server []domain.Event) (*eventlog.Log, *domain.ConflictError, error) {
	log, err := e.replay(ancestor.Clone(), server)
	if err != nil {
		return nil, nil, err
	}

	for _, local := range locals {
		if conflict := e.updateConflict(local, server); conflict != nil {
			return nil, conflict, nil
		}
		replay := local
		replay.Seq = 0 // reassigned against the rebased log
		if _, err := log.Append(replay); err != nil {
			if !domain.IsRejection(err) {
				return nil, nil, err
			}
			return nil, &domain.ConflictError{
				Event:  local,
				Reason: e.conflictReason(local, ancestor, log.Tree(), err),
			}, nil
		}
	}
	return log, nil, nil
}

// updateConflict checks rule (b): a local NodeUpdated colliding with a
// remote NodeUpdated on the same node, at the configured granularity.
func (e *Engine) updateConflict(local domain.Event, server []domain.Event) *domain.ConflictError {
	lp, ok := local.Payload.(domain.NodeUpdated)
	if !ok {
		return nil
	}
	for _, remote := range server {
		rp, ok := remote.Payload.(domain.NodeUpdated)
		if !ok || rp.NodeID != lp.NodeID {
			continue
		}
		if e.granularity == GranularityNode || lp.Patch.Overlaps(rp.Patch) {
			return &domain.ConflictError{
				Event:  local,
				Reason: "concurrent update to the same fields of node " + string(lp.NodeID),
			}
		}
	}
	return nil
}

// conflictReason distinguishes "target removed remotely" from a plain
// precondition failure, for the user-facing fork prompt.
func (e *Engine) conflictReason(local domain.Event, ancestor, merged *domain.Tree, cause error) string {
	target := local.TargetNode()
	if target != "" && ancestor.Contains(target) && !merged.Contains(target) {
		return "node " + string(target) + " was removed remotely"
	}
	if p, ok := local.Payload.(domain.NodeAdded); ok {
		if ancestor.Contains(p.ParentID) && !merged.Contains(p.ParentID) {
			return "parent " + string(p.ParentID) + " was removed remotely"
		}
	}
	return "event no longer applicable: " + cause.Error()
}

// fork replays the local events in isolation over the common ancestor,
// then rewrites every node identifier so the new tree cannot collide
// with the server's namespace. Every call terminates with a complete
// fork; the local events are never discarded.
func (e *Engine) fork(ancestor *domain.Tree, locals []domain.Event) (*Fork, error) {
	isolated := eventlog.New(ancestor.Clone())
	for _, local := range locals {
		replay := local
		replay.Seq = 0
		if _, err := isolated.Append(replay); err != nil {
			// Locals applied in this order once before, over this very
			// snapshot. A failure here means the ancestor is not the
			// state they were recorded against.
			return nil, err
		}
	}

	mapping := make(map[domain.NodeID]domain.NodeID)
	remap := func(id domain.NodeID) domain.NodeID {
		if mapped, ok := mapping[id]; ok {
			return mapped
		}
		fresh := e.newID()
		mapping[id] = fresh
		return fresh
	}
	forked := isolated.Tree().Remapped("fork-"+uuid.NewString()[:8], remap)

	return &Fork{
		Tree:    forked,
		Log:     eventlog.New(forked),
		Mapping: mapping,
	}, nil
}
