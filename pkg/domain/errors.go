package domain

import (
	"errors"
	"fmt"
)

// ErrQueueEmpty is returned when draining an offline queue with no
// buffered events.
var ErrQueueEmpty = errors.New("offline queue is empty")

// ErrStateNotFound is returned when no persisted queue state exists for
// a tree identifier.
var ErrStateNotFound = errors.New("queue state not found")

// ErrNothingToUndo is reported when the history cursor is at the start.
var ErrNothingToUndo = errors.New("nothing to undo")

// ErrNothingToRedo is reported when no undone event exists ahead of the cursor.
var ErrNothingToRedo = errors.New("nothing to redo")

// NotFoundError indicates a node identifier is absent from the tree.
type NotFoundError struct {
	ID NodeID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node %q not found", e.ID)
}

// DuplicateIDError indicates an insert collided with an existing identifier.
type DuplicateIDError struct {
	ID NodeID
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("node %q already exists", e.ID)
}

// InvariantError indicates an operation would break a structural
// invariant of the tree, such as removing the root.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "invariant violation: " + e.Reason
}

// PreconditionError indicates an event is not applicable against the
// tree state that precedes it in the log. The event is rejected whole;
// no partial application is ever observable.
type PreconditionError struct {
	Kind   Kind
	NodeID NodeID
	Cause  error
}

func (e *PreconditionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("event %s rejected: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("event %s rejected: precondition failed for node %q", e.Kind, e.NodeID)
}

func (e *PreconditionError) Unwrap() error { return e.Cause }

// ConflictError indicates concurrent local and remote edits could not
// be merged. It carries the local event that failed to reapply; the
// caller resolves it by forking, never by silent discard.
type ConflictError struct {
	Event  Event
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconciliation conflict on %s (node %q): %s",
		e.Event.Kind, e.Event.TargetNode(), e.Reason)
}

// TransportError wraps a network failure during submission. Events that
// hit a TransportError are enqueued, never lost.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// IsRejection reports whether err is a local validation failure that
// leaves the tree untouched (as opposed to a transport or conflict error).
func IsRejection(err error) bool {
	var nf *NotFoundError
	var dup *DuplicateIDError
	var inv *InvariantError
	var pre *PreconditionError
	return errors.As(err, &nf) || errors.As(err, &dup) ||
		errors.As(err, &inv) || errors.As(err, &pre)
}
