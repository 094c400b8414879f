package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopyhq/canopy/pkg/domain"
)

// RunQueueStoreContract runs a suite of tests to verify that a
// QueueStore implementation adheres to the defined interface contract.
func RunQueueStoreContract(t *testing.T, store QueueStore) {
	ctx := context.Background()
	treeID := "contract-test-tree-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		state := &QueueState{
			TreeID:        treeID,
			LastServerSeq: 7,
			Events: []domain.Event{
				domain.AddNode("root", domain.Node{ID: "a", Name: "alpha", Type: domain.NodeTypeTopic}),
				domain.UpdateNode("a", domain.NodePatch{Metadata: map[string]string{"color": "green"}}),
			},
		}

		err := store.Save(ctx, treeID, state)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, treeID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, treeID, loaded.TreeID)
		assert.Equal(t, uint64(7), loaded.LastServerSeq)
		require.Len(t, loaded.Events, 2)

		// Order and payload typing must survive the round trip.
		assert.Equal(t, domain.KindNodeAdded, loaded.Events[0].Kind)
		added, ok := loaded.Events[0].Payload.(domain.NodeAdded)
		require.True(t, ok, "payload should decode to its concrete variant")
		assert.Equal(t, domain.NodeID("a"), added.Node.ID)
		assert.Equal(t, "alpha", added.Node.Name)

		assert.Equal(t, domain.KindNodeUpdated, loaded.Events[1].Kind)
		updated, ok := loaded.Events[1].Payload.(domain.NodeUpdated)
		require.True(t, ok)
		assert.Equal(t, "green", updated.Patch.Metadata["color"])
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		err := store.Save(ctx, treeID, &QueueState{TreeID: treeID, LastServerSeq: 9})
		require.NoError(t, err)

		loaded, err := store.Load(ctx, treeID)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), loaded.LastServerSeq)
		assert.Empty(t, loaded.Events)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+treeID)
		assert.ErrorIs(t, err, domain.ErrStateNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, treeID, &QueueState{TreeID: treeID})
		require.NoError(t, err)

		err = store.Delete(ctx, treeID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, treeID)
		assert.ErrorIs(t, err, domain.ErrStateNotFound, "Load after Delete should return ErrStateNotFound")
	})
}
