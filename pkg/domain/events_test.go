package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopyhq/canopy/pkg/domain"
)

func TestApply_Rejections(t *testing.T) {
	tree := buildTree(t)
	snapshot := tree.Clone()

	cases := []struct {
		label string
		event domain.Event
	}{
		{"add under missing parent", domain.AddNode("missing", domain.Node{ID: "x"})},
		{"add duplicate id", domain.AddNode("root", domain.Node{ID: "1"})},
		{"remove missing node", domain.RemoveNode("missing")},
		{"remove root", domain.RemoveNode(tree.RootID())},
		{"update missing node", domain.UpdateNode("missing", domain.NodePatch{})},
		{"focus missing node", domain.ChangeFocus(ptr(domain.NodeID("missing")))},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			_, err := domain.Apply(tree, tc.event)
			require.Error(t, err)
			assert.True(t, domain.IsRejection(err), "expected a local rejection, got %v", err)

			var pre *domain.PreconditionError
			require.ErrorAs(t, err, &pre)
			assert.Equal(t, tc.event.Kind, pre.Kind)
		})
	}

	// Rejected events leave the tree byte-for-byte alone.
	assert.True(t, tree.Equal(snapshot))
}

// Every applied event must be exactly undone by its compensation:
// apply(e) then apply(invert(e, effect)) restores the prior tree.
func TestInvert_RoundTrip(t *testing.T) {
	cases := []struct {
		label string
		event domain.Event
	}{
		{"node added", domain.AddNode("1", domain.Node{ID: "new", Name: "fresh", Type: domain.NodeTypeNote})},
		{"node removed leaf", domain.RemoveNode("1b")},
		{"node removed subtree", domain.RemoveNode("1")},
		{"node updated", domain.UpdateNode("1a", domain.NodePatch{
			Name:     ptr("edited"),
			Metadata: map[string]string{"body": "changed"},
		})},
		{"node updated new metadata key", domain.UpdateNode("1b", domain.NodePatch{
			Metadata: map[string]string{"color": "red"},
		})},
		{"node updated removed metadata key", domain.UpdateNode("1a", domain.NodePatch{
			RemoveMetadata: []string{"body"},
		})},
		{"focus changed", domain.ChangeFocus(ptr(domain.NodeID("2")))},
		{"focus cleared", domain.ChangeFocus(nil)},
		{"zoom changed", domain.ChangeZoom(2.0)},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			tree := buildTree(t)
			focus := domain.NodeID("1a")
			tree.SetFocus(&focus)
			before := tree.Clone()

			eff, err := domain.Apply(tree, tc.event)
			require.NoError(t, err)

			inverse, err := domain.Invert(tc.event, eff)
			require.NoError(t, err)
			_, err = domain.Apply(tree, inverse)
			require.NoError(t, err)

			assert.True(t, tree.Equal(before), "compensation must restore the prior tree exactly")

			// Equal covers structure only; view state round-trips too,
			// including focus displaced by a subtree removal.
			gotFocus, gotOK := tree.Focus()
			wantFocus, wantOK := before.Focus()
			assert.Equal(t, wantOK, gotOK)
			assert.Equal(t, wantFocus, gotFocus)
			assert.Equal(t, before.Zoom(), tree.Zoom())
		})
	}
}

func TestInvert_RestoreKeepsPosition(t *testing.T) {
	tree := buildTree(t)

	eff, err := domain.Apply(tree, domain.RemoveNode("1"))
	require.NoError(t, err)

	inverse, err := domain.Invert(domain.RemoveNode("1"), eff)
	require.NoError(t, err)
	require.Equal(t, domain.KindNodeRestored, inverse.Kind)

	_, err = domain.Apply(tree, inverse)
	require.NoError(t, err)

	// "1" comes back before its sibling "2", not at the end.
	root, _ := tree.Node(tree.RootID())
	assert.Equal(t, []domain.NodeID{"1", "2"}, root.Children)
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	events := []domain.Event{
		domain.AddNode("root", domain.Node{ID: "n", Name: "x", Type: domain.NodeTypeLink,
			Metadata: map[string]string{"url": "https://example.com"}}),
		domain.UpdateNode("n", domain.NodePatch{Name: ptr("y"), RemoveMetadata: []string{"stale"}}),
		domain.ChangeFocus(nil),
		domain.ChangeZoom(0.75),
	}
	for _, e := range events {
		e.Seq = 7
		raw, err := json.Marshal(e)
		require.NoError(t, err)

		var got domain.Event
		require.NoError(t, json.Unmarshal(raw, &got))

		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, e.Kind, got.Kind)
		assert.Equal(t, uint64(7), got.Seq)
		assert.Equal(t, e.Origin, got.Origin)
		assert.Equal(t, e.Payload, got.Payload, "payload must decode to the concrete variant for %s", e.Kind)
	}
}

// A node_restored event (undo of a removal) can sit in the offline
// queue, so its subtree snapshot must survive the wire intact.
func TestEvent_JSONRoundTrip_NodeRestored(t *testing.T) {
	tree := buildTree(t)
	eff, err := domain.Apply(tree, domain.RemoveNode("1"))
	require.NoError(t, err)
	restore, err := domain.Invert(domain.RemoveNode("1"), eff)
	require.NoError(t, err)

	raw, err := json.Marshal(restore)
	require.NoError(t, err)
	var got domain.Event
	require.NoError(t, json.Unmarshal(raw, &got))

	payload, ok := got.Payload.(domain.NodeRestored)
	require.True(t, ok)
	assert.Equal(t, domain.NodeID("1"), payload.Subtree.RootID)
	assert.Equal(t, domain.NodeID("root"), payload.Subtree.Parent)
	assert.Equal(t, 0, payload.Subtree.Index)
	require.Len(t, payload.Subtree.Nodes, 3)

	// Restoring from the decoded snapshot works against a tree that
	// lost the subtree the same way.
	other := buildTree(t)
	_, err = domain.Apply(other, domain.RemoveNode("1"))
	require.NoError(t, err)
	_, err = domain.Apply(other, got)
	require.NoError(t, err)
	assert.True(t, other.Equal(buildTree(t)))
}

func TestDecodePayload_UnknownKind(t *testing.T) {
	_, err := domain.DecodePayload("node_exploded", map[string]any{})
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
