package canopy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	canopy "github.com/canopyhq/canopy"
	"github.com/canopyhq/canopy/pkg/adapters/memory"
	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/reconcile"
)

func TestSession_LocalEditingAndUndo(t *testing.T) {
	ctx := context.Background()
	s, err := canopy.Open(ctx, "garden")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateNode(ctx, s.RootID(), domain.Node{ID: "ferns", Name: "Ferns", Type: domain.NodeTypeTopic})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, "ferns", domain.Node{ID: "maidenhair", Name: "Maidenhair", Type: domain.NodeTypeNote})
	require.NoError(t, err)
	_, err = s.EditNode(ctx, "maidenhair", domain.NodePatch{
		Metadata: map[string]string{"light": "indirect"},
	})
	require.NoError(t, err)

	tree, err := s.Snapshot()
	require.NoError(t, err)
	n, ok := tree.Node("maidenhair")
	require.True(t, ok)
	assert.Equal(t, "indirect", n.Metadata["light"])

	// Undo the edit, then the second create.
	_, err = s.Undo(ctx)
	require.NoError(t, err)
	_, err = s.Undo(ctx)
	require.NoError(t, err)

	tree, err = s.Snapshot()
	require.NoError(t, err)
	assert.False(t, tree.Contains("maidenhair"))
	assert.True(t, tree.Contains("ferns"))

	_, err = s.Redo(ctx)
	require.NoError(t, err)
	tree, err = s.Snapshot()
	require.NoError(t, err)
	assert.True(t, tree.Contains("maidenhair"))
}

func TestSession_DeleteCascadesAndUndoRestores(t *testing.T) {
	ctx := context.Background()
	s, err := canopy.Open(ctx, "garden")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateNode(ctx, s.RootID(), domain.Node{ID: "a", Name: "a"})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, "a", domain.Node{ID: "a1", Name: "a1"})
	require.NoError(t, err)
	before, err := s.Snapshot()
	require.NoError(t, err)

	_, err = s.DeleteNode(ctx, "a")
	require.NoError(t, err)
	tree, err := s.Snapshot()
	require.NoError(t, err)
	assert.False(t, tree.Contains("a1"), "deletion takes the subtree")

	_, err = s.Undo(ctx)
	require.NoError(t, err)
	tree, err = s.Snapshot()
	require.NoError(t, err)
	assert.True(t, tree.Equal(before), "undo of a deletion restores the whole subtree")
}

// A session that crashes with events buffered offline comes back with
// both the tree state and the pending queue intact.
func TestSession_RestartRestoresOfflineQueue(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	s, err := canopy.Open(ctx, "garden", canopy.WithQueueStore(store))
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, s.RootID(), domain.Node{ID: "a", Name: "survives"})
	require.NoError(t, err)
	s.Close()

	restored, err := canopy.Open(ctx, "garden", canopy.WithQueueStore(store))
	require.NoError(t, err)
	defer restored.Close()

	tree, err := restored.Snapshot()
	require.NoError(t, err)
	n, ok := tree.Node("a")
	require.True(t, ok, "buffered events replay into the restored tree")
	assert.Equal(t, "survives", n.Name)

	state, err := restored.State()
	require.NoError(t, err)
	assert.Equal(t, 1, state.QueueDepth, "the event is still awaiting confirmation")
}

// Two sessions against one backend: edits made by the first reach the
// second on reconnect.
func TestSession_TwoClientsConverge(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewBackend()

	a, err := canopy.Open(ctx, "shared", canopy.WithBackend(backend))
	require.NoError(t, err)
	defer a.Close()
	b, err := canopy.Open(ctx, "shared", canopy.WithBackend(backend))
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Reconnect(ctx)
	require.NoError(t, err)
	_, err = a.CreateNode(ctx, a.RootID(), domain.Node{ID: "from-a", Name: "hello"})
	require.NoError(t, err)

	outcome, err := b.Reconnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeFastForward, outcome)

	tree, err := b.Snapshot()
	require.NoError(t, err)
	assert.True(t, tree.Contains("from-a"))
}

// A conflicted reconnect forks: the primary tree follows the server and
// the local changes live on under a user-chosen name.
func TestSession_ConflictFork(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewBackend()

	a, err := canopy.Open(ctx, "shared", canopy.WithBackend(backend))
	require.NoError(t, err)
	defer a.Close()
	b, err := canopy.Open(ctx, "shared", canopy.WithBackend(backend))
	require.NoError(t, err)
	defer b.Close()

	// Both sessions start from a shared, confirmed node.
	_, err = a.Reconnect(ctx)
	require.NoError(t, err)
	_, err = a.CreateNode(ctx, a.RootID(), domain.Node{ID: "shared-node", Name: "original"})
	require.NoError(t, err)
	_, err = b.Reconnect(ctx)
	require.NoError(t, err)

	// b edits offline while a renames the same field online.
	b.Offline()
	_, err = b.EditNode(ctx, "shared-node", domain.NodePatch{Name: strptr("b's name")})
	require.NoError(t, err)
	_, err = a.EditNode(ctx, "shared-node", domain.NodePatch{Name: strptr("a's name")})
	require.NoError(t, err)

	notifications, sub := b.Subscribe()
	defer sub.Cancel()

	outcome, err := b.Reconnect(ctx)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeForked, outcome)

	// The fork prompt arrives on the notification channel.
	var sawForkPending bool
	for done := false; !done; {
		select {
		case n := <-notifications:
			if n.Kind == canopy.NotifyForkPending {
				sawForkPending = true
				done = true
			}
		default:
			done = true
		}
	}
	assert.True(t, sawForkPending)

	// Primary tree converged on the server's name.
	tree, err := b.Snapshot()
	require.NoError(t, err)
	n, ok := tree.Node("shared-node")
	require.True(t, ok)
	assert.Equal(t, "a's name", n.Name)

	// The fork holds b's side under fresh identifiers.
	forked, err := b.NameFork("b's draft")
	require.NoError(t, err)
	assert.Equal(t, "b's draft", forked.ID())
	assert.False(t, forked.Contains("shared-node"), "fork uses a fresh id namespace")

	found := false
	for _, id := range forked.Descendants(forked.RootID()) {
		if node, _ := forked.Node(id); node.Name == "b's name" {
			found = true
		}
	}
	assert.True(t, found, "the conflicted local edit survives in the fork")
}

func strptr(s string) *string { return &s }
