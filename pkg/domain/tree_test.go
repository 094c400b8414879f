package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopyhq/canopy/pkg/domain"
)

func buildTree(t *testing.T) *domain.Tree {
	t.Helper()
	tree := domain.New("plants")
	require.NoError(t, tree.AddNode(tree.RootID(), domain.Node{ID: "1", Name: "alpha", Type: domain.NodeTypeTopic}))
	require.NoError(t, tree.AddNode(tree.RootID(), domain.Node{ID: "2", Name: "beta", Type: domain.NodeTypeTopic}))
	require.NoError(t, tree.AddNode("1", domain.Node{ID: "1a", Name: "alpha-child", Type: domain.NodeTypeNote,
		Metadata: map[string]string{"body": "hello"}}))
	require.NoError(t, tree.AddNode("1", domain.Node{ID: "1b", Name: "alpha-child-2", Type: domain.NodeTypeNote}))
	return tree
}

func TestTree_AddNode(t *testing.T) {
	tree := buildTree(t)

	t.Run("child order is insertion order", func(t *testing.T) {
		root, ok := tree.Node(tree.RootID())
		require.True(t, ok)
		assert.Equal(t, []domain.NodeID{"1", "2"}, root.Children)
	})

	t.Run("parent index is consistent", func(t *testing.T) {
		p, ok := tree.Parent("1a")
		require.True(t, ok)
		assert.Equal(t, domain.NodeID("1"), p)

		_, ok = tree.Parent(tree.RootID())
		assert.False(t, ok, "root must have no parent")
	})

	t.Run("unknown parent", func(t *testing.T) {
		err := tree.AddNode("missing", domain.Node{ID: "x"})
		var nf *domain.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, domain.NodeID("missing"), nf.ID)
	})

	t.Run("duplicate id", func(t *testing.T) {
		err := tree.AddNode(tree.RootID(), domain.Node{ID: "1"})
		var dup *domain.DuplicateIDError
		require.ErrorAs(t, err, &dup)
	})
}

func TestTree_RemoveNode_Cascade(t *testing.T) {
	tree := buildTree(t)
	before := tree.Len()
	descendants := len(tree.Descendants("1"))

	sub, err := tree.RemoveNode("1")
	require.NoError(t, err)

	// Exactly the subtree goes: 1 + |descendants|.
	assert.Equal(t, before-descendants, tree.Len())
	for _, id := range []domain.NodeID{"1", "1a", "1b"} {
		_, ok := tree.Node(id)
		assert.False(t, ok, "descendant %s should be gone", id)
	}
	_, ok := tree.Node("2")
	assert.True(t, ok, "sibling untouched")

	// The snapshot restores the subtree at its prior position.
	require.NoError(t, tree.Restore(sub))
	root, _ := tree.Node(tree.RootID())
	assert.Equal(t, []domain.NodeID{"1", "2"}, root.Children)
	n, ok := tree.Node("1a")
	require.True(t, ok)
	assert.Equal(t, "hello", n.Metadata["body"])
	p, _ := tree.Parent("1b")
	assert.Equal(t, domain.NodeID("1"), p)
}

func TestTree_RemoveNode_Errors(t *testing.T) {
	tree := buildTree(t)

	_, err := tree.RemoveNode("missing")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = tree.RemoveNode(tree.RootID())
	var inv *domain.InvariantError
	assert.ErrorAs(t, err, &inv)
}

func TestTree_UpdateNode_PartialMerge(t *testing.T) {
	tree := buildTree(t)

	name := "renamed"
	prior, err := tree.UpdateNode("1a", domain.NodePatch{
		Name:     &name,
		Metadata: map[string]string{"color": "green"},
	})
	require.NoError(t, err)

	n, _ := tree.Node("1a")
	assert.Equal(t, "renamed", n.Name)
	assert.Equal(t, domain.NodeTypeNote, n.Type, "unspecified field untouched")
	assert.Equal(t, "hello", n.Metadata["body"], "unspecified metadata untouched")
	assert.Equal(t, "green", n.Metadata["color"])

	// Prior patch holds exactly the displaced values. "color" was a
	// fresh key, so the prior marks it for removal, not as "".
	require.NotNil(t, prior.Name)
	assert.Equal(t, "alpha-child", *prior.Name)
	assert.Nil(t, prior.Type)
	assert.Empty(t, prior.Metadata)
	assert.Equal(t, []string{"color"}, prior.RemoveMetadata)

	_, err = tree.UpdateNode("missing", domain.NodePatch{Name: &name})
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestTree_UpdateNode_MetadataRemoval(t *testing.T) {
	tree := buildTree(t)

	prior, err := tree.UpdateNode("1a", domain.NodePatch{RemoveMetadata: []string{"body", "ghost"}})
	require.NoError(t, err)

	n, _ := tree.Node("1a")
	_, ok := n.Metadata["body"]
	assert.False(t, ok, "listed key is deleted")
	assert.Equal(t, map[string]string{"body": "hello"}, prior.Metadata,
		"prior restores the deleted value; absent keys record nothing")
	assert.Empty(t, prior.RemoveMetadata)
}

func TestTree_RemoveNode_RestoresDisplacedFocus(t *testing.T) {
	tree := buildTree(t)
	focus := domain.NodeID("1a")
	tree.SetFocus(&focus)

	sub, err := tree.RemoveNode("1")
	require.NoError(t, err)
	_, ok := tree.Focus()
	assert.False(t, ok, "focus inside the removed subtree is cleared")

	require.NoError(t, tree.Restore(sub))
	got, ok := tree.Focus()
	require.True(t, ok)
	assert.Equal(t, focus, got)

	// Focus outside the subtree rides through untouched.
	other := domain.NodeID("2")
	tree.SetFocus(&other)
	sub, err = tree.RemoveNode("1")
	require.NoError(t, err)
	assert.Nil(t, sub.Focus)
	got, _ = tree.Focus()
	assert.Equal(t, other, got)
}

func TestTree_SerializeRoundTrip(t *testing.T) {
	tree := buildTree(t)
	focus := domain.NodeID("1a")
	tree.SetFocus(&focus)
	tree.SetZoom(1.5)

	doc, err := tree.Serialize()
	require.NoError(t, err)

	restored, err := domain.Deserialize(doc)
	require.NoError(t, err)

	assert.True(t, tree.Equal(restored), "round trip must be structurally exact")
	assert.Equal(t, tree.ID(), restored.ID())
	assert.Equal(t, 1.5, restored.Zoom())
	got, ok := restored.Focus()
	require.True(t, ok)
	assert.Equal(t, focus, got)

	// Parent links are rebuilt from child lists.
	p, ok := restored.Parent("1b")
	require.True(t, ok)
	assert.Equal(t, domain.NodeID("1"), p)
}

func TestTree_Remapped(t *testing.T) {
	tree := buildTree(t)
	remapped := tree.Remapped("copy", func(id domain.NodeID) domain.NodeID {
		return "new-" + id
	})

	assert.Equal(t, domain.NodeID("new-root"), remapped.RootID())
	assert.Equal(t, tree.Len(), remapped.Len())
	n, ok := remapped.Node("new-1a")
	require.True(t, ok)
	assert.Equal(t, "alpha-child", n.Name)
	p, _ := remapped.Parent("new-1a")
	assert.Equal(t, domain.NodeID("new-1"), p)

	// The original is untouched.
	_, ok = tree.Node("new-1")
	assert.False(t, ok)
}

func TestNodePatch_Overlaps(t *testing.T) {
	name := "x"
	typ := "note"

	cases := []struct {
		label string
		a, b  domain.NodePatch
		want  bool
	}{
		{"same field", domain.NodePatch{Name: &name}, domain.NodePatch{Name: &name}, true},
		{"different fields", domain.NodePatch{Name: &name}, domain.NodePatch{Type: &typ}, false},
		{"same metadata key", domain.NodePatch{Metadata: map[string]string{"a": "1"}},
			domain.NodePatch{Metadata: map[string]string{"a": "2"}}, true},
		{"different metadata keys", domain.NodePatch{Metadata: map[string]string{"a": "1"}},
			domain.NodePatch{Metadata: map[string]string{"b": "2"}}, false},
		{"removal vs write of same key", domain.NodePatch{RemoveMetadata: []string{"a"}},
			domain.NodePatch{Metadata: map[string]string{"a": "2"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Overlaps(tc.b))
		})
	}
}
