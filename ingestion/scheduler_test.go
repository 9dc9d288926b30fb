package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/chatvec/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunOnce(t *testing.T) {
	s, h := newTestSyncer(t)
	ctx := context.Background()
	h.source.AddRecords(testTalker, textRecords(testTalker, 1, 10)...)
	h.source.AddRecords("fresh", textRecords("fresh", 1, 10)...)

	require.NoError(t, h.checkpoints.UpdateCheckpoint(ctx, &core.Checkpoint{
		Talker: testTalker, LastSeq: 5, LastSyncTime: time.Now(),
	}))
	require.NoError(t, h.repo.SetAutoSync(ctx, testTalker, true))
	require.NoError(t, h.repo.SetAutoSync(ctx, "fresh", true))

	sched, err := NewScheduler(s, h.repo, time.Hour, nil)
	require.NoError(t, err)

	ok := sched.RunOnce(ctx)
	assert.Equal(t, 1, ok, "the never synced talker is skipped")
	assert.Equal(t, int64(10), h.lastSeq(t))
	assert.Empty(t, h.store.Seqs("fresh"))
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s, h := newTestSyncer(t)
	sched, err := NewScheduler(s, h.repo, 10*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sched.Run(ctx), context.DeadlineExceeded)
}

func TestNewScheduler_Validation(t *testing.T) {
	s, h := newTestSyncer(t)

	_, err := NewScheduler(nil, h.repo, time.Minute, nil)
	assert.Error(t, err)
	_, err = NewScheduler(s, nil, time.Minute, nil)
	assert.Error(t, err)

	sched, err := NewScheduler(s, h.repo, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAutoSyncInterval, sched.interval)
}
