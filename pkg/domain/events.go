package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Kind is the discriminant of the closed event variant set.
type Kind string

const (
	KindNodeAdded    Kind = "node_added"
	KindNodeRemoved  Kind = "node_removed"
	KindNodeUpdated  Kind = "node_updated"
	KindFocusChanged Kind = "focus_changed"
	KindZoomChanged  Kind = "zoom_changed"

	// KindNodeRestored is emitted only as the compensation for a
	// removal (undo). It re-attaches a detached subtree at its prior
	// position. It never originates from a user intent.
	KindNodeRestored Kind = "node_restored"
)

// Origin tags where an event was produced.
type Origin string

const (
	// OriginLocal marks events issued by this client's user.
	OriginLocal Origin = "local"
	// OriginRemote marks server-confirmed events from other clients.
	OriginRemote Origin = "remote"
)

// NodeAdded attaches a new node under a parent.
type NodeAdded struct {
	ParentID NodeID `json:"parent_id" mapstructure:"parent_id"`
	Node     Node   `json:"node" mapstructure:"node"`
}

// NodeRemoved detaches a node and its whole subtree.
type NodeRemoved struct {
	NodeID NodeID `json:"node_id" mapstructure:"node_id"`
}

// NodeUpdated merges a partial patch into a node.
type NodeUpdated struct {
	NodeID NodeID    `json:"node_id" mapstructure:"node_id"`
	Patch  NodePatch `json:"patch" mapstructure:"patch"`
}

// FocusChanged moves focus to a node, or clears it when NodeID is nil.
type FocusChanged struct {
	NodeID *NodeID `json:"node_id,omitempty" mapstructure:"node_id"`
}

// ZoomChanged sets the view zoom level.
type ZoomChanged struct {
	Level float64 `json:"level" mapstructure:"level"`
}

// NodeRestored re-attaches a previously removed subtree (undo of a removal).
type NodeRestored struct {
	Subtree Subtree `json:"subtree" mapstructure:"subtree"`
}

// Event is one entry in the mutation stream. The payload is a tagged
// variant discriminated by Kind; consumers switch on Kind exhaustively
// instead of type-asserting through an interface hierarchy.
//
// Seq is the client-local sequence number, assigned when the event is
// admitted to the log. Events with Seq greater than the last
// server-acknowledged sequence are "unconfirmed".
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"ts"`
	Seq       uint64    `json:"seq"`
	Origin    Origin    `json:"origin"`
	Payload   any       `json:"payload"`
}

// NewEvent builds a local-origin event with a fresh identifier and
// timestamp. Seq is assigned later, on append.
func NewEvent(kind Kind, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Origin:    OriginLocal,
		Payload:   payload,
	}
}

// AddNode builds a NodeAdded event.
func AddNode(parentID NodeID, n Node) Event {
	return NewEvent(KindNodeAdded, NodeAdded{ParentID: parentID, Node: n})
}

// RemoveNode builds a NodeRemoved event.
func RemoveNode(id NodeID) Event {
	return NewEvent(KindNodeRemoved, NodeRemoved{NodeID: id})
}

// UpdateNode builds a NodeUpdated event.
func UpdateNode(id NodeID, patch NodePatch) Event {
	return NewEvent(KindNodeUpdated, NodeUpdated{NodeID: id, Patch: patch})
}

// ChangeFocus builds a FocusChanged event; pass nil to clear focus.
func ChangeFocus(id *NodeID) Event {
	return NewEvent(KindFocusChanged, FocusChanged{NodeID: id})
}

// ChangeZoom builds a ZoomChanged event.
func ChangeZoom(level float64) Event {
	return NewEvent(KindZoomChanged, ZoomChanged{Level: level})
}

// TargetNode returns the node the event acts on, or "" for view-only
// events with no target.
func (e Event) TargetNode() NodeID {
	switch p := e.Payload.(type) {
	case NodeAdded:
		return p.Node.ID
	case NodeRemoved:
		return p.NodeID
	case NodeUpdated:
		return p.NodeID
	case NodeRestored:
		return p.Subtree.RootID
	case FocusChanged:
		if p.NodeID != nil {
			return *p.NodeID
		}
	}
	return ""
}

// eventWire mirrors Event with an undecoded payload.
type eventWire struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"ts"`
	Seq       uint64          `json:"seq"`
	Origin    Origin          `json:"origin"`
	Payload   json.RawMessage `json:"payload"`
}

// UnmarshalJSON decodes the payload into the concrete variant selected
// by Kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	e.ID = wire.ID
	e.Kind = wire.Kind
	e.Timestamp = wire.Timestamp
	e.Seq = wire.Seq
	e.Origin = wire.Origin

	if len(wire.Payload) == 0 || string(wire.Payload) == "null" {
		e.Payload = nil
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(wire.Payload, &raw); err != nil {
		return fmt.Errorf("event %s: payload: %w", wire.Kind, err)
	}
	payload, err := DecodePayload(wire.Kind, raw)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}

// DecodePayload maps an untyped wire payload into the concrete variant
// for kind. Transports that already deliver map[string]any (e.g. a
// websocket feed) use this directly.
func DecodePayload(kind Kind, raw map[string]any) (any, error) {
	decode := func(out any) error {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           out,
			TagName:          "mapstructure",
			WeaklyTypedInput: true,
		})
		if err != nil {
			return err
		}
		return dec.Decode(raw)
	}

	switch kind {
	case KindNodeAdded:
		var p NodeAdded
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return p, nil
	case KindNodeRemoved:
		var p NodeRemoved
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return p, nil
	case KindNodeUpdated:
		var p NodeUpdated
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return p, nil
	case KindFocusChanged:
		var p FocusChanged
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return p, nil
	case KindZoomChanged:
		var p ZoomChanged
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return p, nil
	case KindNodeRestored:
		var p NodeRestored
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

// Effect captures what an applied event displaced, so that history can
// compute the exact compensating event later.
type Effect struct {
	// Removed is the detached subtree (NodeRemoved only).
	Removed *Subtree `json:"removed,omitempty"`
	// PriorPatch holds the displaced field values (NodeUpdated only).
	PriorPatch *NodePatch `json:"prior_patch,omitempty"`
	// PriorFocus holds the displaced focus; FocusMoved distinguishes
	// "prior focus was none" from "not a focus event".
	PriorFocus *NodeID `json:"prior_focus,omitempty"`
	FocusMoved bool    `json:"focus_moved,omitempty"`
	// PriorZoom holds the displaced zoom level (ZoomChanged only).
	PriorZoom *float64 `json:"prior_zoom,omitempty"`
}

// Apply validates the event against the current tree and mutates it.
// Validation and mutation are atomic from the caller's point of view:
// on error the tree is untouched and the returned Effect is empty.
func Apply(t *Tree, e Event) (Effect, error) {
	switch p := e.Payload.(type) {
	case NodeAdded:
		if err := t.AddNode(p.ParentID, p.Node); err != nil {
			return Effect{}, &PreconditionError{Kind: e.Kind, NodeID: p.Node.ID, Cause: err}
		}
		return Effect{}, nil

	case NodeRemoved:
		sub, err := t.RemoveNode(p.NodeID)
		if err != nil {
			return Effect{}, &PreconditionError{Kind: e.Kind, NodeID: p.NodeID, Cause: err}
		}
		return Effect{Removed: sub}, nil

	case NodeUpdated:
		prior, err := t.UpdateNode(p.NodeID, p.Patch)
		if err != nil {
			return Effect{}, &PreconditionError{Kind: e.Kind, NodeID: p.NodeID, Cause: err}
		}
		return Effect{PriorPatch: &prior}, nil

	case FocusChanged:
		if p.NodeID != nil && !t.Contains(*p.NodeID) {
			return Effect{}, &PreconditionError{Kind: e.Kind, NodeID: *p.NodeID,
				Cause: &NotFoundError{ID: *p.NodeID}}
		}
		prior := t.SetFocus(p.NodeID)
		return Effect{PriorFocus: prior, FocusMoved: true}, nil

	case ZoomChanged:
		prior := t.SetZoom(p.Level)
		return Effect{PriorZoom: &prior}, nil

	case NodeRestored:
		sub := p.Subtree
		if err := t.Restore(&sub); err != nil {
			return Effect{}, &PreconditionError{Kind: e.Kind, NodeID: sub.RootID, Cause: err}
		}
		return Effect{}, nil

	default:
		return Effect{}, &PreconditionError{Kind: e.Kind,
			Cause: fmt.Errorf("unknown payload type %T", e.Payload)}
	}
}

// Invert returns the compensating event for an applied event. Undo
// never rewrites the log; the inverse is appended as a new forward
// event.
func Invert(e Event, eff Effect) (Event, error) {
	switch p := e.Payload.(type) {
	case NodeAdded:
		return RemoveNode(p.Node.ID), nil
	case NodeRemoved:
		if eff.Removed == nil {
			return Event{}, fmt.Errorf("invert %s: no removed subtree recorded", e.Kind)
		}
		return NewEvent(KindNodeRestored, NodeRestored{Subtree: *eff.Removed}), nil
	case NodeRestored:
		return RemoveNode(p.Subtree.RootID), nil
	case NodeUpdated:
		if eff.PriorPatch == nil {
			return Event{}, fmt.Errorf("invert %s: no prior patch recorded", e.Kind)
		}
		return UpdateNode(p.NodeID, *eff.PriorPatch), nil
	case FocusChanged:
		if !eff.FocusMoved {
			return Event{}, fmt.Errorf("invert %s: no prior focus recorded", e.Kind)
		}
		return ChangeFocus(eff.PriorFocus), nil
	case ZoomChanged:
		if eff.PriorZoom == nil {
			return Event{}, fmt.Errorf("invert %s: no prior zoom recorded", e.Kind)
		}
		return ChangeZoom(*eff.PriorZoom), nil
	default:
		return Event{}, fmt.Errorf("invert: unknown payload type %T", e.Payload)
	}
}
