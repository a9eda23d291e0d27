package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

func TestFileStoreLoadMissingTagReturnsNotOK(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, ok, err := store.Load(context.Background(), "full_sync_end")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreSaveThenLoadRoundTrips(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	env := syncpkg.CheckpointEnvelope{
		DatabaseType: "postgres-trigger",
		Checkpoint:   syncpkg.Checkpoint{Kind: syncpkg.CheckpointSequence, SequenceID: 42},
		Phase:        syncpkg.PhaseFullSyncEnd,
		CreatedAt:    "2026-07-31T00:00:00Z",
	}
	require.NoError(t, store.Save(ctx, "full_sync_end", env))

	got, ok, err := store.Load(ctx, "full_sync_end")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, env, got)
}

func TestFileStoreLoadReturnsMostRecentSave(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first := syncpkg.CheckpointEnvelope{Checkpoint: syncpkg.Checkpoint{Kind: syncpkg.CheckpointSequence, SequenceID: 1}}
	second := syncpkg.CheckpointEnvelope{Checkpoint: syncpkg.Checkpoint{Kind: syncpkg.CheckpointSequence, SequenceID: 2}}

	require.NoError(t, store.Save(ctx, "incremental_progress", first))
	require.NoError(t, store.Save(ctx, "incremental_progress", second))

	got, ok, err := store.Load(ctx, "incremental_progress")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Checkpoint.SequenceID)
}

func TestFileStoreTagsDoNotCollide(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "full_sync_start", syncpkg.CheckpointEnvelope{
		Checkpoint: syncpkg.Checkpoint{Kind: syncpkg.CheckpointSequence, SequenceID: 1},
	}))
	require.NoError(t, store.Save(ctx, "full_sync_end", syncpkg.CheckpointEnvelope{
		Checkpoint: syncpkg.Checkpoint{Kind: syncpkg.CheckpointSequence, SequenceID: 2},
	}))

	start, ok, err := store.Load(ctx, "full_sync_start")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), start.Checkpoint.SequenceID)

	end, ok, err := store.Load(ctx, "full_sync_end")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), end.Checkpoint.SequenceID)
}
