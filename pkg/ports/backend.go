package ports

import (
	"context"

	"github.com/canopyhq/canopy/pkg/domain"
)

// SubmitResult is the backend's answer to a batch submission. Either
// the batch was accepted and NewVersion is the server's head, or the
// server's log has advanced past the client's last-known version and
// ServerEvents carries the history the client has not yet seen.
type SubmitResult struct {
	Accepted     bool           `json:"accepted"`
	NewVersion   uint64         `json:"new_version,omitempty"`
	ServerEvents []domain.Event `json:"server_events,omitempty"`
}

// Backend is the authoritative event store, reachable over whatever
// transport the host wires in. Network failures surface as
// *domain.TransportError; the caller reacts by enqueueing, never by
// dropping events.
type Backend interface {
	// Submit sends a batch of local events along with the last server
	// version the client knows about.
	Submit(ctx context.Context, treeID string, lastKnown uint64, events []domain.Event) (*SubmitResult, error)

	// Events returns the authoritative events after the given version,
	// in server order.
	Events(ctx context.Context, treeID string, after uint64) ([]domain.Event, error)
}
