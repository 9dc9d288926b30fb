package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T, opts ...RepositoryOption) storage.SyncStateRepository {
	t.Helper()
	repo, backend, err := NewMemoryRepository(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
		backend.Close()
	})
	return repo
}

func TestCheckpoint_SaveLoad(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	_, err := repo.LoadCheckpoint(ctx, "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Microsecond)
	cp := &core.Checkpoint{Talker: "alice", TalkerName: "Alice", LastSeq: 10, LastSyncTime: now}
	require.NoError(t, repo.SaveCheckpoint(ctx, cp))

	loaded, err := repo.LoadCheckpoint(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", loaded.TalkerName)
	assert.Equal(t, int64(10), loaded.LastSeq)
	assert.True(t, now.Equal(loaded.LastSyncTime))

	cp.LastSeq = 20
	require.NoError(t, repo.SaveCheckpoint(ctx, cp))
	loaded, err = repo.LoadCheckpoint(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(20), loaded.LastSeq)
}

func TestCheckpoint_SaveInvalid(t *testing.T) {
	repo := setupRepo(t)
	err := repo.SaveCheckpoint(context.Background(), &core.Checkpoint{LastSeq: 1})
	assert.ErrorIs(t, err, core.ErrInvalidCheckpoint)
}

func TestCheckpoint_List(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	for _, talker := range []string{"carol", "alice", "bob"} {
		require.NoError(t, repo.SaveCheckpoint(ctx, &core.Checkpoint{Talker: talker, LastSeq: 1}))
	}

	all, err := repo.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].Talker)
	assert.Equal(t, "bob", all[1].Talker)
	assert.Equal(t, "carol", all[2].Talker)
}

func TestProcessedSet(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	ok, err := repo.IsProcessed(ctx, "alice", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.MarkProcessed(ctx, "alice", []int64{1, 2, 3}))

	ok, err = repo.IsProcessed(ctx, "alice", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.ProcessedSeqs(ctx, "alice", []int64{1, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{1: true, 3: true}, found)

	// sets are per talker
	ok, err = repo.IsProcessed(ctx, "alice2", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessedSet_Empty(t *testing.T) {
	repo := setupRepo(t)
	assert.NoError(t, repo.MarkProcessed(context.Background(), "alice", nil))
}

func TestProcessedSet_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for badger TTL expiry")
	}
	repo := setupRepo(t, WithProcessedTTL(time.Second))
	ctx := context.Background()

	require.NoError(t, repo.MarkProcessed(ctx, "alice", []int64{7}))
	ok, err := repo.IsProcessed(ctx, "alice", 7)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(2100 * time.Millisecond)

	ok, err = repo.IsProcessed(ctx, "alice", 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteTalker(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveCheckpoint(ctx, &core.Checkpoint{Talker: "alice", LastSeq: 3}))
	require.NoError(t, repo.SaveCheckpoint(ctx, &core.Checkpoint{Talker: "bob", LastSeq: 3}))
	require.NoError(t, repo.MarkProcessed(ctx, "alice", []int64{1, 2, 3}))
	require.NoError(t, repo.MarkProcessed(ctx, "bob", []int64{1}))

	require.NoError(t, repo.DeleteTalker(ctx, "alice"))

	_, err := repo.LoadCheckpoint(ctx, "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	found, err := repo.ProcessedSeqs(ctx, "alice", []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = repo.LoadCheckpoint(ctx, "bob")
	assert.NoError(t, err)
	ok, err := repo.IsProcessed(ctx, "bob", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// unknown talker
	assert.NoError(t, repo.DeleteTalker(ctx, "nobody"))
	assert.ErrorIs(t, repo.DeleteTalker(ctx, ""), core.ErrInvalidArgument)
}

func TestAutoSync(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	talkers, err := repo.AutoSyncTalkers(ctx)
	require.NoError(t, err)
	assert.Empty(t, talkers)

	require.NoError(t, repo.SetAutoSync(ctx, "bob", true))
	require.NoError(t, repo.SetAutoSync(ctx, "alice", true))
	require.NoError(t, repo.SetAutoSync(ctx, "alice", true))

	talkers, err = repo.AutoSyncTalkers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, talkers)

	require.NoError(t, repo.SetAutoSync(ctx, "bob", false))
	talkers, err = repo.AutoSyncTalkers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, talkers)
}

func TestClosedBackend(t *testing.T) {
	repo, backend, err := NewMemoryRepository()
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	_, err = repo.LoadCheckpoint(context.Background(), "alice")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
