package runtime

import (
	"github.com/canopyhq/canopy/pkg/eventlog"
	"github.com/canopyhq/canopy/pkg/reconcile"
)

// NotificationKind classifies what the loop is telling its subscribers.
type NotificationKind string

const (
	// NotifyApplied: an event passed validation and is in the log.
	NotifyApplied NotificationKind = "applied"
	// NotifyRejected: an event failed validation; the tree is untouched.
	NotifyRejected NotificationKind = "rejected"
	// NotifyQueued: a local event is buffered awaiting connectivity.
	NotifyQueued NotificationKind = "queued"
	// NotifySynced: the backend acknowledged our unconfirmed events.
	NotifySynced NotificationKind = "synced"
	// NotifyReconciled: a reconciliation finished (see Outcome).
	NotifyReconciled NotificationKind = "reconciled"
	// NotifyForkPending: reconciliation forked; the fork needs a name.
	NotifyForkPending NotificationKind = "fork_pending"
)

// Notification is one message on the loop's outbound channel.
// Listeners are subscribers against this single channel; there is no
// callback registry.
type Notification struct {
	Kind    NotificationKind
	Entry   *eventlog.Entry   // applied entry, when Kind == NotifyApplied
	Err     error             // rejection or transport cause, when relevant
	Outcome reconcile.Outcome // set when Kind == NotifyReconciled
}

// Subscription is the capability token returned by Subscribe. Cancel
// unregisters the subscriber and closes its channel; it is safe to call
// more than once.
type Subscription struct {
	id   uint64
	loop *Loop
}

// Cancel removes the subscription.
func (s *Subscription) Cancel() {
	s.loop.unsubscribe(s.id)
}
