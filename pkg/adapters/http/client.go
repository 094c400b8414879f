package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/ports"
)

// Client implements ports.Backend against a server running NewHandler.
// Network failures are wrapped in *domain.TransportError so callers can
// fall back to the offline queue without inspecting error strings.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// NewClient creates a backend client for baseURL (e.g. "http://host:8080").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends a batch of events to the server.
func (c *Client) Submit(ctx context.Context, treeID string, lastKnown uint64, events []domain.Event) (*ports.SubmitResult, error) {
	body, err := json.Marshal(SubmitRequest{
		LastKnownServerVersion: lastKnown,
		Events:                 events,
	})
	if err != nil {
		return nil, fmt.Errorf("encode submit request: %w", err)
	}

	endpoint := c.baseURL + "/trees/" + url.PathEscape(treeID) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: "submit", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.TransportError{Op: "submit",
			Cause: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var result ports.SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &domain.TransportError{Op: "submit", Cause: err}
	}
	return &result, nil
}

// Events fetches the authoritative events after the given version.
func (c *Client) Events(ctx context.Context, treeID string, after uint64) ([]domain.Event, error) {
	endpoint := c.baseURL + "/trees/" + url.PathEscape(treeID) + "/events?after=" +
		strconv.FormatUint(after, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build events request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: "events", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.TransportError{Op: "events",
			Cause: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var result EventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &domain.TransportError{Op: "events", Cause: err}
	}
	return result.Events, nil
}

// Listen connects to the server's websocket feed and invokes fn for
// every accepted event until ctx is done or the connection drops.
func (c *Client) Listen(ctx context.Context, treeID string, fn func(domain.Event)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) +
		"/trees/" + url.PathEscape(treeID) + "/watch"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return &domain.TransportError{Op: "watch", Cause: err}
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var e domain.Event
		if err := conn.ReadJSON(&e); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &domain.TransportError{Op: "watch", Cause: err}
		}
		fn(e)
	}
}

var _ ports.Backend = (*Client)(nil)
