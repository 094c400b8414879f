// Package history implements undo/redo as a pure cursor over the
// append-only event log.
//
// Undoing never rewrites history: the controller computes the inverse
// of the event behind the cursor and appends it as a new forward event,
// preserving full auditability. Only locally originated events enter
// the cursor; remote events are applied and logged but can never be
// reverted by a local undo.
package history

import (
	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/eventlog"
)

// Controller is a cursor over the local-origin sub-sequence of the
// event log. It holds no tree data of its own, only log versions.
type Controller struct {
	log *eventlog.Log

	// undoable holds, in order, the log versions of local user intents
	// that participate in undo/redo. position is the cursor: entries
	// before it can be undone, entries at or after it can be redone.
	undoable []uint64
	position int
}

// New creates a controller over the given log.
func New(log *eventlog.Log) *Controller {
	return &Controller{log: log}
}

// Record registers a freshly applied local user intent as undoable.
// If the cursor is behind the tip, the redo tail is discarded first
// (standard editor semantics: a new branch of edits invalidates the
// undone future).
//
// Compensating events appended by Undo/Redo are never recorded here.
func (c *Controller) Record(entry eventlog.Entry) {
	c.undoable = append(c.undoable[:c.position], entry.Version)
	c.position = len(c.undoable)
}

// CanUndo reports whether an undoable event exists behind the cursor.
func (c *Controller) CanUndo() bool { return c.position > 0 }

// CanRedo reports whether a previously undone event exists ahead of
// the cursor.
func (c *Controller) CanRedo() bool { return c.position < len(c.undoable) }

// Position returns the cursor position within the local-origin view.
func (c *Controller) Position() int { return c.position }

// Undo appends the compensating event for the entry behind the cursor
// and moves the cursor back. Returns domain.ErrNothingToUndo when the
// cursor is at the start.
func (c *Controller) Undo() (eventlog.Entry, error) {
	if !c.CanUndo() {
		return eventlog.Entry{}, domain.ErrNothingToUndo
	}
	entry, err := c.log.At(c.undoable[c.position-1])
	if err != nil {
		return eventlog.Entry{}, err
	}
	inverse, err := domain.Invert(entry.Event, entry.Effect)
	if err != nil {
		return eventlog.Entry{}, err
	}
	applied, err := c.log.Append(inverse)
	if err != nil {
		return eventlog.Entry{}, err
	}
	c.position--
	return applied, nil
}

// Redo reapplies the event ahead of the cursor as a fresh forward event
// and moves the cursor forward. Returns domain.ErrNothingToRedo when no
// undone event exists.
func (c *Controller) Redo() (eventlog.Entry, error) {
	if !c.CanRedo() {
		return eventlog.Entry{}, domain.ErrNothingToRedo
	}
	entry, err := c.log.At(c.undoable[c.position])
	if err != nil {
		return eventlog.Entry{}, err
	}
	replay := domain.NewEvent(entry.Event.Kind, entry.Event.Payload)
	applied, err := c.log.Append(replay)
	if err != nil {
		return eventlog.Entry{}, err
	}
	c.position++
	return applied, nil
}

// Rebase points the controller at a reconciled log. The undo stack is
// cleared: versions from the old log do not index into the new one, and
// merged events belong to confirmed history.
func (c *Controller) Rebase(log *eventlog.Log) {
	c.log = log
	c.undoable = nil
	c.position = 0
}
