package http_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	canopyhttp "github.com/canopyhq/canopy/pkg/adapters/http"
	"github.com/canopyhq/canopy/pkg/adapters/memory"
	"github.com/canopyhq/canopy/pkg/domain"
)

func newTestServer(t *testing.T) (*memory.Backend, *canopyhttp.Client) {
	t.Helper()
	backend := memory.NewBackend()
	srv := httptest.NewServer(canopyhttp.NewHandler(backend))
	t.Cleanup(srv.Close)
	return backend, canopyhttp.NewClient(srv.URL)
}

func TestClient_SubmitAndEvents(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	res, err := client.Submit(ctx, "t", 0, []domain.Event{
		domain.AddNode("root", domain.Node{ID: "a", Name: "alpha",
			Metadata: map[string]string{"k": "v"}}),
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, uint64(1), res.NewVersion)

	events, err := client.Events(ctx, "t", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Payloads survive the wire as their concrete variants.
	added, ok := events[0].Payload.(domain.NodeAdded)
	require.True(t, ok, "payload should decode to NodeAdded, got %T", events[0].Payload)
	assert.Equal(t, "alpha", added.Node.Name)
	assert.Equal(t, "v", added.Node.Metadata["k"])
	assert.Equal(t, domain.OriginRemote, events[0].Origin)
}

func TestClient_SubmitBehindHead(t *testing.T) {
	ctx := context.Background()
	backend, client := newTestServer(t)

	_, err := backend.Submit(ctx, "t", 0, []domain.Event{domain.AddNode("root", domain.Node{ID: "other"})})
	require.NoError(t, err)

	res, err := client.Submit(ctx, "t", 0, []domain.Event{domain.AddNode("root", domain.Node{ID: "mine"})})
	require.NoError(t, err)

	assert.False(t, res.Accepted)
	require.Len(t, res.ServerEvents, 1)
	assert.Equal(t, domain.NodeID("other"), res.ServerEvents[0].TargetNode())
}

func TestClient_TransportError(t *testing.T) {
	// A server that is no longer there.
	srv := httptest.NewServer(canopyhttp.NewHandler(memory.NewBackend()))
	client := canopyhttp.NewClient(srv.URL)
	srv.Close()

	_, err := client.Submit(context.Background(), "t", 0, nil)
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "submit", te.Op)

	_, err = client.Events(context.Background(), "t", 0)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "events", te.Op)
}

func TestClient_Listen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend, client := newTestServer(t)

	received := make(chan domain.Event, 8)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- client.Listen(ctx, "t", func(e domain.Event) {
			received <- e
		})
	}()

	// Give the subscription a moment to register before publishing.
	require.Eventually(t, func() bool {
		backendSubmit(t, backend, "t", domain.AddNode("root", domain.Node{ID: "a"}))
		select {
		case e := <-received:
			assert.Equal(t, domain.KindNodeAdded, e.Kind)
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-listenErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancellation")
	}
}

func backendSubmit(t *testing.T, b *memory.Backend, treeID string, e domain.Event) {
	t.Helper()
	_, err := b.Submit(context.Background(), treeID, b.Version(treeID), []domain.Event{e})
	require.NoError(t, err)
}
