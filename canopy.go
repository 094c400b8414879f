package canopy

import (
	"context"
	"log/slog"
	"time"

	"github.com/canopyhq/canopy/internal/logging"
	"github.com/canopyhq/canopy/internal/runtime"
	"github.com/canopyhq/canopy/pkg/adapters/memory"
	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/eventlog"
	"github.com/canopyhq/canopy/pkg/history"
	"github.com/canopyhq/canopy/pkg/observability"
	"github.com/canopyhq/canopy/pkg/ports"
	"github.com/canopyhq/canopy/pkg/queue"
	"github.com/canopyhq/canopy/pkg/reconcile"
)

// Notification re-exports the session loop's outbound message type.
type Notification = runtime.Notification

// NotificationKind re-exports the notification discriminant.
type NotificationKind = runtime.NotificationKind

// Notification kinds a subscriber can observe.
const (
	NotifyApplied     = runtime.NotifyApplied
	NotifyRejected    = runtime.NotifyRejected
	NotifyQueued      = runtime.NotifyQueued
	NotifySynced      = runtime.NotifySynced
	NotifyReconciled  = runtime.NotifyReconciled
	NotifyForkPending = runtime.NotifyForkPending
)

// Subscription re-exports the unsubscribe capability token.
type Subscription = runtime.Subscription

// State re-exports the session's read-only bookkeeping view.
type State = runtime.LoopState

// Session is the high-level entry point for the Canopy library. It
// owns one tree, its event log, its undo history and its offline
// queue, all driven by a single event-processing loop.
type Session struct {
	loop   *runtime.Loop
	rootID domain.NodeID
	cancel context.CancelFunc
}

type config struct {
	tree               *domain.Tree
	store              ports.QueueStore
	backend            ports.Backend
	reconciler         *reconcile.Engine
	logger             *slog.Logger
	metrics            *observability.Metrics
	checkpointInterval int
	retryAttempts      int
	retryBase          time.Duration
}

// Option defines a functional option for configuring a Session.
type Option func(*config)

// WithTree seeds the session with an existing tree (e.g. deserialized
// from storage) instead of a fresh single-root one.
func WithTree(t *domain.Tree) Option {
	return func(c *config) { c.tree = t }
}

// WithQueueStore injects a durable store for the offline queue. The
// default is in-memory and does not survive a restart.
func WithQueueStore(s ports.QueueStore) Option {
	return func(c *config) { c.store = s }
}

// WithBackend connects the session to an authoritative event store.
// Without one the session is permanently offline.
func WithBackend(b ports.Backend) Option {
	return func(c *config) { c.backend = b }
}

// WithReconciler overrides the reconciliation engine (e.g. to set
// conflict granularity).
func WithReconciler(e *reconcile.Engine) Option {
	return func(c *config) { c.reconciler = e }
}

// WithLogger sets a custom structured logger for the session.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithMetrics wires Prometheus collectors into the session loop.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithCheckpointInterval sets how many events elapse between retained
// log snapshots.
func WithCheckpointInterval(n int) Option {
	return func(c *config) { c.checkpointInterval = n }
}

// WithRetry bounds reconnect attempts and sets the base backoff delay.
func WithRetry(attempts int, base time.Duration) Option {
	return func(c *config) {
		c.retryAttempts = attempts
		c.retryBase = base
	}
}

// Open creates a session for treeID, restoring any offline queue state
// a previous process persisted, and starts its processing loop.
func Open(ctx context.Context, treeID string, opts ...Option) (*Session, error) {
	cfg := &config{
		store:              memory.NewStore(),
		logger:             logging.NewNop(),
		checkpointInterval: eventlog.DefaultCheckpointInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	q, err := queue.Open(ctx, treeID, cfg.store)
	if err != nil {
		return nil, err
	}

	tree := cfg.tree
	if tree == nil {
		tree = domain.New(treeID)
	}
	log := eventlog.New(tree, eventlog.WithCheckpointInterval(cfg.checkpointInterval))

	// Events buffered by a previous process were applied before it
	// stopped; replay them so the restored tree reflects them again.
	for _, e := range q.Pending() {
		replay := e
		replay.Seq = 0
		if _, err := log.Append(replay); err != nil {
			return nil, err
		}
	}

	if cfg.reconciler == nil {
		cfg.reconciler = reconcile.NewEngine(reconcile.WithLogger(cfg.logger))
	}

	loop := runtime.NewLoop(runtime.Config{
		TreeID:        treeID,
		Log:           log,
		History:       history.New(log),
		Queue:         q,
		Backend:       cfg.backend,
		Reconciler:    cfg.reconciler,
		Logger:        cfg.logger,
		Metrics:       cfg.metrics,
		RetryAttempts: cfg.retryAttempts,
		RetryBase:     cfg.retryBase,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	go loop.Run(runCtx)

	return &Session{loop: loop, rootID: tree.RootID(), cancel: cancel}, nil
}

// Close stops the processing loop. Queue state is already durable; no
// flush is needed.
func (s *Session) Close() {
	s.cancel()
}

// RootID returns the identifier of the tree's root node.
func (s *Session) RootID() domain.NodeID { return s.rootID }

// CreateNode dispatches a NodeAdded intent.
func (s *Session) CreateNode(ctx context.Context, parentID domain.NodeID, n domain.Node) (eventlog.Entry, error) {
	return s.loop.Dispatch(ctx, domain.AddNode(parentID, n))
}

// EditNode dispatches a NodeUpdated intent with a partial patch.
func (s *Session) EditNode(ctx context.Context, id domain.NodeID, patch domain.NodePatch) (eventlog.Entry, error) {
	return s.loop.Dispatch(ctx, domain.UpdateNode(id, patch))
}

// DeleteNode dispatches a NodeRemoved intent; the whole subtree goes.
func (s *Session) DeleteNode(ctx context.Context, id domain.NodeID) (eventlog.Entry, error) {
	return s.loop.Dispatch(ctx, domain.RemoveNode(id))
}

// FocusNode dispatches a FocusChanged intent; pass nil to clear focus.
func (s *Session) FocusNode(ctx context.Context, id *domain.NodeID) (eventlog.Entry, error) {
	return s.loop.Dispatch(ctx, domain.ChangeFocus(id))
}

// SetZoom dispatches a ZoomChanged intent.
func (s *Session) SetZoom(ctx context.Context, level float64) (eventlog.Entry, error) {
	return s.loop.Dispatch(ctx, domain.ChangeZoom(level))
}

// Dispatch admits an arbitrary local event.
func (s *Session) Dispatch(ctx context.Context, e domain.Event) (eventlog.Entry, error) {
	return s.loop.Dispatch(ctx, e)
}

// Undo reverts the latest local intent by appending its compensation.
// Returns domain.ErrNothingToUndo at the start of history.
func (s *Session) Undo(ctx context.Context) (eventlog.Entry, error) {
	return s.loop.Undo(ctx)
}

// Redo reapplies the most recently undone intent.
// Returns domain.ErrNothingToRedo when there is none.
func (s *Session) Redo(ctx context.Context) (eventlog.Entry, error) {
	return s.loop.Redo(ctx)
}

// Ingest admits a server-confirmed event from another client.
func (s *Session) Ingest(ctx context.Context, e domain.Event) error {
	return s.loop.Ingest(ctx, e)
}

// Reconnect transitions the session online and synchronizes with the
// backend, draining the offline queue through reconciliation.
func (s *Session) Reconnect(ctx context.Context) (reconcile.Outcome, error) {
	return s.loop.Reconnect(ctx)
}

// Offline transitions the session offline; local events buffer durably.
func (s *Session) Offline() {
	s.loop.Offline()
}

// Snapshot returns a deep copy of the tree for presentation use.
func (s *Session) Snapshot() (*domain.Tree, error) {
	return s.loop.Snapshot()
}

// State returns current version, queue depth and undo/redo availability.
func (s *Session) State() (State, error) {
	return s.loop.State()
}

// Subscribe registers a listener on the session's notification channel.
func (s *Session) Subscribe() (<-chan Notification, *Subscription) {
	return s.loop.Subscribe()
}

// NameFork names the tree produced by the latest conflicted
// reconciliation, as prompted by a NotifyForkPending notification.
func (s *Session) NameFork(name string) (*domain.Tree, error) {
	return s.loop.NameFork(name)
}

// Forks returns copies of all forked trees this session retains.
func (s *Session) Forks() ([]*domain.Tree, error) {
	return s.loop.Forks()
}
