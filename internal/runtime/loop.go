// Package runtime implements the single-threaded session loop.
//
// One logical loop runs per client session. Every mutation — a local
// user intent, an undo, a remote push — is admitted into a single
// inbound queue and processed strictly one at a time, so no two events
// are ever applied concurrently against the tree. Suspension happens
// only around external calls (backend submission, durable-storage
// saves); tree mutation and log append are synchronous.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/canopyhq/canopy/internal/logging"
	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/eventlog"
	"github.com/canopyhq/canopy/pkg/history"
	"github.com/canopyhq/canopy/pkg/observability"
	"github.com/canopyhq/canopy/pkg/ports"
	"github.com/canopyhq/canopy/pkg/queue"
	"github.com/canopyhq/canopy/pkg/reconcile"
)

// Config wires a Loop's collaborators together.
type Config struct {
	TreeID     string
	Log        *eventlog.Log
	History    *history.Controller
	Queue      *queue.Queue
	Backend    ports.Backend // nil means permanently offline
	Reconciler *reconcile.Engine
	Logger     *slog.Logger
	Metrics    *observability.Metrics // nil-safe

	// Bounded retry for reconnect attempts.
	RetryAttempts int
	RetryBase     time.Duration
}

// Loop is the event-processing loop for one session. All exported
// methods are safe for concurrent use: they post a command into the
// inbox and wait for the loop goroutine to execute it.
type Loop struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	log   *eventlog.Log
	hist  *history.Controller
	queue *queue.Queue
	rec   *reconcile.Engine

	online bool
	// lastSynced is the log version up to which history is
	// server-confirmed; the snapshot there is the common ancestor
	// handed to reconciliation.
	lastSynced uint64

	forks       []*reconcile.Fork
	pendingFork *reconcile.Fork

	inbox chan command
	done  chan struct{}

	subMu   sync.Mutex
	subs    map[uint64]chan Notification
	nextSub uint64
}

type command interface {
	execute(ctx context.Context, l *Loop)
}

// ErrStopped is returned by loop methods once Run has exited, including
// for commands that were admitted but never executed.
var ErrStopped = errors.New("session loop stopped")

// NewLoop builds a loop. Call Run before using any other method.
func NewLoop(cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Reconciler == nil {
		cfg.Reconciler = reconcile.NewEngine(reconcile.WithLogger(cfg.Logger))
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 250 * time.Millisecond
	}
	return &Loop{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		log:     cfg.Log,
		hist:    cfg.History,
		queue:   cfg.Queue,
		rec:     cfg.Reconciler,
		inbox:   make(chan command, 64),
		done:    make(chan struct{}),
		subs:    make(map[uint64]chan Notification),
	}
}

// Run processes commands until ctx is cancelled. It must run in its own
// goroutine; exactly one Run per Loop.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer l.closeSubscribers()
	for {
		// Cancellation takes priority over queued commands; their
		// callers unblock via ErrStopped once done closes.
		select {
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case cmd := <-l.inbox:
			cmd.execute(ctx, l)
		}
	}
}

func (l *Loop) post(cmd command) error {
	select {
	case l.inbox <- cmd:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// await collects a command's reply. A command can sit in the inbox when
// Run exits, so shutdown must release its caller rather than strand it.
func await[T any](l *Loop, reply <-chan T) (T, error) {
	select {
	case r := <-reply:
		return r, nil
	case <-l.done:
		// The command may have replied just before Run exited.
		select {
		case r := <-reply:
			return r, nil
		default:
			var zero T
			return zero, ErrStopped
		}
	}
}

// --- commands ---------------------------------------------------------

type applyReply struct {
	entry eventlog.Entry
	err   error
}

type cmdDispatch struct {
	ctx   context.Context
	event domain.Event
	reply chan applyReply
}

func (c cmdDispatch) execute(_ context.Context, l *Loop) {
	entry, err := l.applyLocal(c.ctx, c.event, true)
	c.reply <- applyReply{entry: entry, err: err}
}

type cmdUndo struct {
	ctx   context.Context
	redo  bool
	reply chan applyReply
}

func (c cmdUndo) execute(_ context.Context, l *Loop) {
	var entry eventlog.Entry
	var err error
	if c.redo {
		entry, err = l.hist.Redo()
	} else {
		entry, err = l.hist.Undo()
	}
	if err != nil {
		c.reply <- applyReply{err: err}
		return
	}
	l.metrics.EventApplied(string(entry.Event.Kind), string(entry.Event.Origin))
	l.publish(Notification{Kind: NotifyApplied, Entry: &entry})
	l.transmit(c.ctx, entry.Event)
	c.reply <- applyReply{entry: entry}
}

type cmdIngest struct {
	ctx   context.Context
	event domain.Event
	reply chan error
}

func (c cmdIngest) execute(_ context.Context, l *Loop) {
	c.reply <- l.ingest(c.ctx, c.event)
}

type cmdReconnect struct {
	ctx   context.Context
	reply chan reconnectReply
}

type reconnectReply struct {
	outcome reconcile.Outcome
	err     error
}

func (c cmdReconnect) execute(_ context.Context, l *Loop) {
	outcome, err := l.reconnect(c.ctx)
	c.reply <- reconnectReply{outcome: outcome, err: err}
}

type cmdOffline struct {
	reply chan struct{}
}

func (c cmdOffline) execute(_ context.Context, l *Loop) {
	l.online = false
	close(c.reply)
}

type cmdSnapshot struct {
	reply chan *domain.Tree
}

func (c cmdSnapshot) execute(_ context.Context, l *Loop) {
	c.reply <- l.log.Tree().Clone()
}

type cmdState struct {
	reply chan LoopState
}

// LoopState is a read-only view of the loop's bookkeeping.
type LoopState struct {
	Version    uint64
	QueueDepth int
	Online     bool
	CanUndo    bool
	CanRedo    bool
	ForkCount  int
}

func (c cmdState) execute(_ context.Context, l *Loop) {
	c.reply <- LoopState{
		Version:    l.log.Version(),
		QueueDepth: l.queue.Len(),
		Online:     l.online,
		CanUndo:    l.hist.CanUndo(),
		CanRedo:    l.hist.CanRedo(),
		ForkCount:  len(l.forks),
	}
}

type cmdNameFork struct {
	name  string
	reply chan forkReply
}

type forkReply struct {
	tree *domain.Tree
	err  error
}

func (c cmdNameFork) execute(_ context.Context, l *Loop) {
	if l.pendingFork == nil {
		c.reply <- forkReply{err: fmt.Errorf("no fork awaiting a name")}
		return
	}
	l.pendingFork.Rename(c.name)
	tree := l.pendingFork.Tree.Clone()
	l.pendingFork = nil
	c.reply <- forkReply{tree: tree}
}

type cmdForks struct {
	reply chan []*domain.Tree
}

func (c cmdForks) execute(_ context.Context, l *Loop) {
	out := make([]*domain.Tree, len(l.forks))
	for i, f := range l.forks {
		out[i] = f.Tree.Clone()
	}
	c.reply <- out
}

// --- public API -------------------------------------------------------

// Dispatch admits a local user intent. The event is validated, applied,
// logged, recorded as undoable, and then transmitted or queued.
func (l *Loop) Dispatch(ctx context.Context, e domain.Event) (eventlog.Entry, error) {
	reply := make(chan applyReply, 1)
	if err := l.post(cmdDispatch{ctx: ctx, event: e, reply: reply}); err != nil {
		return eventlog.Entry{}, err
	}
	r, err := await(l, reply)
	if err != nil {
		return eventlog.Entry{}, err
	}
	return r.entry, r.err
}

// Undo appends the compensating event for the latest undoable intent.
func (l *Loop) Undo(ctx context.Context) (eventlog.Entry, error) {
	reply := make(chan applyReply, 1)
	if err := l.post(cmdUndo{ctx: ctx, reply: reply}); err != nil {
		return eventlog.Entry{}, err
	}
	r, err := await(l, reply)
	if err != nil {
		return eventlog.Entry{}, err
	}
	return r.entry, r.err
}

// Redo reapplies the most recently undone intent.
func (l *Loop) Redo(ctx context.Context) (eventlog.Entry, error) {
	reply := make(chan applyReply, 1)
	if err := l.post(cmdUndo{ctx: ctx, redo: true, reply: reply}); err != nil {
		return eventlog.Entry{}, err
	}
	r, err := await(l, reply)
	if err != nil {
		return eventlog.Entry{}, err
	}
	return r.entry, r.err
}

// Ingest admits a server-confirmed event from another client.
func (l *Loop) Ingest(ctx context.Context, e domain.Event) error {
	reply := make(chan error, 1)
	if err := l.post(cmdIngest{ctx: ctx, event: e, reply: reply}); err != nil {
		return err
	}
	r, err := await(l, reply)
	if err != nil {
		return err
	}
	return r
}

// Reconnect marks the session online and synchronizes with the backend
// using bounded retry with backoff. Buffered events are drained through
// reconciliation; the outcome reports how histories were combined.
func (l *Loop) Reconnect(ctx context.Context) (reconcile.Outcome, error) {
	reply := make(chan reconnectReply, 1)
	if err := l.post(cmdReconnect{ctx: ctx, reply: reply}); err != nil {
		return "", err
	}
	r, err := await(l, reply)
	if err != nil {
		return "", err
	}
	return r.outcome, r.err
}

// Offline marks the session offline; subsequent local events buffer in
// the offline queue.
func (l *Loop) Offline() {
	reply := make(chan struct{})
	if err := l.post(cmdOffline{reply: reply}); err != nil {
		return
	}
	_, _ = await(l, reply)
}

// Snapshot returns a deep copy of the current tree for presentation
// collaborators. Readers never observe a half-applied event.
func (l *Loop) Snapshot() (*domain.Tree, error) {
	reply := make(chan *domain.Tree, 1)
	if err := l.post(cmdSnapshot{reply: reply}); err != nil {
		return nil, err
	}
	return await(l, reply)
}

// State returns the loop's current bookkeeping.
func (l *Loop) State() (LoopState, error) {
	reply := make(chan LoopState, 1)
	if err := l.post(cmdState{reply: reply}); err != nil {
		return LoopState{}, err
	}
	return await(l, reply)
}

// NameFork assigns the user-chosen name to the fork produced by the
// latest conflicted reconciliation and returns its tree.
func (l *Loop) NameFork(name string) (*domain.Tree, error) {
	reply := make(chan forkReply, 1)
	if err := l.post(cmdNameFork{name: name, reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(l, reply)
	if err != nil {
		return nil, err
	}
	return r.tree, r.err
}

// Forks returns copies of all retained forked trees.
func (l *Loop) Forks() ([]*domain.Tree, error) {
	reply := make(chan []*domain.Tree, 1)
	if err := l.post(cmdForks{reply: reply}); err != nil {
		return nil, err
	}
	return await(l, reply)
}

// Subscribe registers a listener on the loop's outbound notification
// channel. The returned Subscription is the capability to unsubscribe.
func (l *Loop) Subscribe() (<-chan Notification, *Subscription) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	l.nextSub++
	id := l.nextSub
	ch := make(chan Notification, 32)
	l.subs[id] = ch
	return ch, &Subscription{id: id, loop: l}
}

func (l *Loop) unsubscribe(id uint64) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	if ch, ok := l.subs[id]; ok {
		delete(l.subs, id)
		close(ch)
	}
}

func (l *Loop) closeSubscribers() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}

func (l *Loop) publish(n Notification) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- n:
		default: // slow subscriber, drop rather than stall the loop
		}
	}
}

// --- loop internals (run only on the loop goroutine) ------------------

// applyLocal runs the validate -> mutate -> log pipeline for a local
// event. A rejection is surfaced and the loop stays live.
func (l *Loop) applyLocal(ctx context.Context, e domain.Event, record bool) (eventlog.Entry, error) {
	e.Origin = domain.OriginLocal
	entry, err := l.log.Append(e)
	if err != nil {
		l.metrics.EventRejected(string(e.Kind))
		l.logger.WarnContext(ctx, "event rejected", "kind", string(e.Kind), "err", err)
		l.publish(Notification{Kind: NotifyRejected, Err: err})
		return eventlog.Entry{}, err
	}
	if record {
		l.hist.Record(entry)
	}
	l.metrics.EventApplied(string(entry.Event.Kind), string(entry.Event.Origin))
	l.publish(Notification{Kind: NotifyApplied, Entry: &entry})
	l.transmit(ctx, entry.Event)
	return entry, nil
}

// transmit hands an applied local event to the backend, or buffers it
// when offline. The event is already applied locally; a transport
// failure never rolls it back.
func (l *Loop) transmit(ctx context.Context, e domain.Event) {
	if err := l.queue.Enqueue(ctx, e); err != nil {
		l.logger.ErrorContext(ctx, "queue persist failed", "err", err)
	}
	l.metrics.QueueDepth(l.queue.Len())

	if !l.online || l.cfg.Backend == nil {
		l.publish(Notification{Kind: NotifyQueued})
		return
	}
	if err := l.sync(ctx); err != nil {
		l.logger.WarnContext(ctx, "submission failed, buffering", "err", err)
	}
}

// ingest applies a server-confirmed event. With unconfirmed local
// events outstanding, a remote push means the server log advanced past
// us, so it routes through reconciliation instead of a direct apply.
func (l *Loop) ingest(ctx context.Context, e domain.Event) error {
	e.Origin = domain.OriginRemote

	// A push feed may replay events we already confirmed; drop those
	// instead of re-applying them.
	seen := domain.Marker{Seq: l.queue.LastServerSeq(), Origin: domain.OriginRemote}
	if e.Seq != 0 && !seen.Behind(domain.Marker{Seq: e.Seq, Origin: domain.OriginRemote}) {
		l.logger.DebugContext(ctx, "stale push ignored", "seq", e.Seq, "seen", seen.Seq)
		return nil
	}

	if l.queue.Len() > 0 {
		return l.runReconcile(ctx, l.serverEventsFrom(ctx, e))
	}

	entry, err := l.log.Append(e)
	if err != nil {
		if l.cfg.Backend != nil {
			// The remote event presumes history we don't have.
			return l.runReconcile(ctx, l.serverEventsFrom(ctx, e))
		}
		l.metrics.EventRejected(string(e.Kind))
		l.publish(Notification{Kind: NotifyRejected, Err: err})
		return err
	}
	l.lastSynced = l.log.Version()
	if err := l.queue.SetLastServerSeq(ctx, e.Seq); err != nil {
		l.logger.ErrorContext(ctx, "marker persist failed", "err", err)
	}
	l.metrics.EventApplied(string(entry.Event.Kind), string(entry.Event.Origin))
	l.publish(Notification{Kind: NotifyApplied, Entry: &entry})
	return nil
}

// serverEventsFrom fetches the full unseen server history when a
// backend is reachable, falling back to just the pushed event.
func (l *Loop) serverEventsFrom(ctx context.Context, e domain.Event) []domain.Event {
	if l.cfg.Backend != nil {
		events, err := l.cfg.Backend.Events(ctx, l.cfg.TreeID, l.queue.LastServerSeq())
		if err == nil && len(events) > 0 {
			return events
		}
		if err != nil {
			l.logger.WarnContext(ctx, "server history fetch failed", "err", err)
		}
	}
	return []domain.Event{e}
}

// reconnect retries sync with exponential backoff. The offline queue
// persists regardless of the retry outcome, so no event is lost on
// timeout.
func (l *Loop) reconnect(ctx context.Context) (reconcile.Outcome, error) {
	if l.cfg.Backend == nil {
		return reconcile.OutcomeNoop, fmt.Errorf("no backend configured")
	}
	l.online = true

	var lastErr error
	delay := l.cfg.RetryBase
	for attempt := 0; attempt < l.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				l.online = false
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		outcome, err := l.syncOutcome(ctx)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		l.logger.WarnContext(ctx, "reconnect attempt failed",
			"attempt", attempt+1, "err", err)
	}
	l.online = false
	return "", lastErr
}

// sync pushes pending events (or pulls fresh server history) once.
func (l *Loop) sync(ctx context.Context) error {
	_, err := l.syncOutcome(ctx)
	return err
}

func (l *Loop) syncOutcome(ctx context.Context) (reconcile.Outcome, error) {
	// A bounded number of rounds: a merge leaves the merged locals
	// unconfirmed, and the server may advance again between rounds.
	for round := 0; round < 3; round++ {
		pending := l.queue.Pending()

		if len(pending) == 0 {
			events, err := l.cfg.Backend.Events(ctx, l.cfg.TreeID, l.queue.LastServerSeq())
			if err != nil {
				return "", err
			}
			if len(events) == 0 {
				return reconcile.OutcomeNoop, nil
			}
			if err := l.runReconcile(ctx, events); err != nil {
				return "", err
			}
			return reconcile.OutcomeFastForward, nil
		}

		result, err := l.cfg.Backend.Submit(ctx, l.cfg.TreeID, l.queue.LastServerSeq(), pending)
		if err != nil {
			return "", err
		}
		if result.Accepted {
			if _, err := l.queue.Drain(ctx); err != nil {
				return "", err
			}
			if err := l.queue.SetLastServerSeq(ctx, result.NewVersion); err != nil {
				return "", err
			}
			l.lastSynced = l.log.Version()
			l.metrics.QueueDepth(0)
			l.publish(Notification{Kind: NotifySynced})
			return reconcile.OutcomeNoop, nil
		}

		if err := l.runReconcile(ctx, result.ServerEvents); err != nil {
			return "", err
		}
		if l.queue.Len() == 0 {
			// Fork or fast-forward: nothing left to confirm.
			return reconcile.OutcomeForked, nil
		}
		// Merged: go around and submit the still-unconfirmed locals.
	}
	return reconcile.OutcomeMerged, nil
}

// runReconcile feeds the divergence into the reconciliation engine and
// adopts its result.
func (l *Loop) runReconcile(ctx context.Context, serverEvents []domain.Event) error {
	ancestor, err := l.log.SnapshotAt(l.lastSynced)
	if err != nil {
		return err
	}
	// The log is the authority on what is unconfirmed; the queue holds
	// the same events durably and must agree.
	locals := l.log.LocalAfter(l.lastSynced)
	if depth := l.queue.Len(); depth != len(locals) {
		l.logger.WarnContext(ctx, "offline queue out of step with log",
			"queued", depth, "unconfirmed", len(locals))
	}

	result, err := l.rec.Reconcile(ctx, ancestor, locals, serverEvents)
	if err != nil {
		return err
	}
	l.metrics.Reconciled(string(result.Outcome))

	var serverHead uint64
	for _, e := range serverEvents {
		if e.Seq > serverHead {
			serverHead = e.Seq
		}
	}

	switch result.Outcome {
	case reconcile.OutcomeNoop:
		// Server had nothing new; the locals stay queued.

	case reconcile.OutcomeFastForward, reconcile.OutcomeMerged:
		l.adopt(ctx, result.Log, result.Synced, serverHead)

	case reconcile.OutcomeForked:
		l.adopt(ctx, result.Log, result.Synced, serverHead)
		// The locals live on in the fork; the primary queue is done
		// with them.
		if l.queue.Len() > 0 {
			if _, err := l.queue.Drain(ctx); err != nil {
				l.logger.ErrorContext(ctx, "queue drain failed after fork", "err", err)
			}
		}
		l.metrics.QueueDepth(0)
		l.forks = append(l.forks, result.Fork)
		l.pendingFork = result.Fork
		l.publish(Notification{Kind: NotifyForkPending, Err: result.Conflict})
	}

	l.publish(Notification{Kind: NotifyReconciled, Outcome: result.Outcome})
	return nil
}

// adopt swaps in a reconciled log. The old log is dropped from the
// loop but never mutated; callers holding it keep a valid audit trail.
func (l *Loop) adopt(ctx context.Context, newLog *eventlog.Log, synced, serverHead uint64) {
	l.log = newLog
	l.hist.Rebase(newLog)
	l.lastSynced = synced
	if serverHead > 0 {
		if err := l.queue.SetLastServerSeq(ctx, serverHead); err != nil {
			l.logger.ErrorContext(ctx, "marker persist failed", "err", err)
		}
	}
}
