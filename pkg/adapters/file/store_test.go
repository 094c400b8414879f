package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopyhq/canopy/pkg/adapters/file"
	"github.com/canopyhq/canopy/pkg/ports"
)

func TestStore_Contract(t *testing.T) {
	ports.RunQueueStoreContract(t, file.NewStore(t.TempDir()))
}

func TestStore_CreatesBaseDirectory(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "nested", "queues")
	store := file.NewStore(base)

	require.NoError(t, store.Save(ctx, "t", &ports.QueueState{TreeID: "t"}))

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "state file should exist under the base directory")
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	store := file.NewStore(t.TempDir())
	assert.NoError(t, store.Delete(context.Background(), "never-saved"))
}
