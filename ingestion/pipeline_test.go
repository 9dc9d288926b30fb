package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	aimock "github.com/poiesic/chatvec/ai/mock"
	"github.com/poiesic/chatvec/chatlog"
	chatlogmock "github.com/poiesic/chatvec/chatlog/mock"
	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/progress"
	"github.com/poiesic/chatvec/storage"
	"github.com/poiesic/chatvec/storage/badger"
	vsmock "github.com/poiesic/chatvec/vectorstore/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTalker = "room@chatroom"
	testRange  = "2024-03-01~2024-03-31"
)

type harness struct {
	source      *chatlogmock.MockSource
	embedder    *aimock.MockEmbedder
	store       *vsmock.MockStore
	repo        storage.SyncStateRepository
	checkpoints *CheckpointService
	pipeline    *Pipeline
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	repo, backend, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
		backend.Close()
	})
	return newHarnessWithRepo(t, repo, opts...)
}

func newHarnessWithRepo(t *testing.T, repo storage.SyncStateRepository, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		source:   chatlogmock.NewMockSource(),
		embedder: aimock.NewMockEmbedder(),
		store:    vsmock.NewMockStore(),
		repo:     repo,
	}
	h.source.AddRoom(chatlog.Room{Name: testTalker, NickName: "Hikers"})

	checkpoints, err := NewCheckpointService(repo, h.source, nil, WithLookupRetry(2, time.Millisecond))
	require.NoError(t, err)
	h.checkpoints = checkpoints

	opts = append([]Option{
		WithPageRetry(2, time.Millisecond),
		WithBatchRetry(2, time.Millisecond),
		WithRequestTimeout(5 * time.Second),
	}, opts...)
	pipeline, err := NewPipeline(h.source, h.embedder, h.store, checkpoints, opts...)
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)
	h.pipeline = pipeline
	return h
}

func (h *harness) run(t *testing.T, rep progress.Reporter) (*RunResult, error) {
	t.Helper()
	return h.pipeline.Run(context.Background(), RunRequest{Talker: testTalker, TimeRange: testRange, Reporter: rep})
}

func (h *harness) lastSeq(t *testing.T) int64 {
	t.Helper()
	cp, err := h.repo.LoadCheckpoint(context.Background(), testTalker)
	require.NoError(t, err)
	return cp.LastSeq
}

// textRecords returns plain text records with seqs from..to inclusive.
func textRecords(talker string, from, to int64) []core.ChatRecord {
	out := make([]core.ChatRecord, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		out = append(out, core.ChatRecord{
			Seq:        seq,
			Time:       "2024-03-01 08:00:00",
			Talker:     talker,
			TalkerName: "Hikers",
			IsChatRoom: true,
			Sender:     "wxid_a",
			SenderName: "Ann",
			Type:       core.TextMessageType,
			Content:    fmt.Sprintf("message %d", seq),
		})
	}
	return out
}

type event struct {
	stage     progress.Stage
	pct       int
	total     int
	processed int
}

type recordingReporter struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingReporter) Report(stage progress.Stage, pct, total, processed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{stage, pct, total, processed})
}

func (r *recordingReporter) last() event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recordingReporter) has(stage progress.Stage, pct int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.stage == stage && e.pct == pct {
			return true
		}
	}
	return false
}

func TestNewPipeline_Validation(t *testing.T) {
	source := chatlogmock.NewMockSource()
	embedder := aimock.NewMockEmbedder()
	store := vsmock.NewMockStore()
	repo, backend, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	defer backend.Close()
	defer repo.Close()
	checkpoints, err := NewCheckpointService(repo, source, nil)
	require.NoError(t, err)

	_, err = NewPipeline(nil, embedder, store, checkpoints)
	assert.ErrorIs(t, err, ErrSourceRequired)
	_, err = NewPipeline(source, nil, store, checkpoints)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = NewPipeline(source, embedder, nil, checkpoints)
	assert.ErrorIs(t, err, ErrVectorStoreRequired)
	_, err = NewPipeline(source, embedder, store, nil)
	assert.ErrorIs(t, err, ErrCheckpointRepositoryRequired)
	_, err = NewPipeline(source, embedder, store, checkpoints, WithBatchSize(0))
	assert.Error(t, err)
	_, err = NewPipeline(source, embedder, store, checkpoints, WithPageRetry(0, time.Second))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestRun_ZeroCount(t *testing.T) {
	h := newHarness(t)
	rep := &recordingReporter{}

	res, err := h.run(t, rep)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalCount)
	assert.Equal(t, 0, res.Processed)

	assert.Equal(t, event{progress.StageCompleted, 100, 0, 0}, rep.last())
	assert.Equal(t, 0, h.store.CallCount())
	assert.Equal(t, 0, h.source.FetchCalls())
	assert.Equal(t, int64(0), h.lastSeq(t))
}

func TestRun_FourHundredFiftyRecords(t *testing.T) {
	h := newHarness(t)
	h.source.AddRecords(testTalker, textRecords(testTalker, 1, 450)...)

	var mu sync.Mutex
	var sizes []int
	h.store.AddAllFunc = func(_ context.Context, _ [][]float32, units []core.EmbeddingUnit) error {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(units))
		return nil
	}
	rep := &recordingReporter{}

	res, err := h.run(t, rep)
	require.NoError(t, err)

	assert.Equal(t, 450, res.TotalCount)
	assert.Equal(t, 450, res.Eligible)
	assert.Equal(t, 450, res.Processed)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 0, res.SkippedBatches)
	assert.Equal(t, int64(450), res.LastSeq)
	assert.Equal(t, int64(450), h.lastSeq(t))

	assert.Equal(t, 3, h.source.FetchCalls(), "three pages of 200")
	sort.Ints(sizes)
	assert.Equal(t, []int{50, 200, 200}, sizes)

	stored, err := h.store.CountByTalker(context.Background(), testTalker)
	require.NoError(t, err)
	assert.Equal(t, 450, stored)

	assert.Equal(t, event{progress.StageFetching, 5, 0, 0}, rep.events[0])
	assert.True(t, rep.has(progress.StageFetching, 60))
	assert.True(t, rep.has(progress.StageProcessing, 60))
	assert.Equal(t, event{progress.StageCompleted, 100, 450, 450}, rep.last())
	for i := 1; i < len(rep.events); i++ {
		assert.GreaterOrEqual(t, rep.events[i].pct, rep.events[i-1].pct, "progress must not go backwards")
	}

	processed, err := h.repo.ProcessedSeqs(context.Background(), testTalker, []int64{1, 200, 201, 450})
	require.NoError(t, err)
	assert.Len(t, processed, 4)
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.source.AddRecords(testTalker, textRecords(testTalker, 1, 450)...)

	_, err := h.run(t, nil)
	require.NoError(t, err)
	calls := h.store.CallCount()

	res, err := h.run(t, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, res.Eligible)
	assert.Equal(t, calls, h.store.CallCount(), "second run must not write")

	stored, _ := h.store.CountByTalker(context.Background(), testTalker)
	assert.Equal(t, 450, stored)
	assert.Equal(t, int64(450), h.lastSeq(t))
}

func TestRun_FiltersIneligible(t *testing.T) {
	h := newHarness(t)
	records := []core.ChatRecord{
		{Seq: 1, Talker: testTalker, Type: 1, Content: "text"},
		{Seq: 2, Talker: testTalker, Type: 49, SubType: 58, Content: "sticker"},
		{Seq: 3, Talker: testTalker, Type: 49, SubType: 57, Content: "reply",
			Contents: &core.RecordContents{Refer: &core.QuotedReference{Sender: "s", Type: 1, Content: "text"}}},
		{Seq: 4, Talker: testTalker, Type: 3, Content: "<img>"},
		{Seq: 5, Talker: testTalker, Type: 47, Content: "emoji"},
	}
	h.source.AddRecords(testTalker, records...)

	res, err := h.run(t, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalCount)
	assert.Equal(t, 2, res.Eligible)

	seqs := h.store.Seqs(testTalker)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	assert.Equal(t, []int64{1, 3}, seqs)
	assert.Equal(t, int64(5), h.lastSeq(t), "ineligible records are settled too")
}

func TestRun_ResumeFromSeq(t *testing.T) {
	h := newHarness(t)
	h.source.AddRecords(testTalker, textRecords(testTalker, 1, 450)...)
	ctx := context.Background()

	resume := int64(300)
	res, err := h.pipeline.Run(ctx, RunRequest{Talker: testTalker, TimeRange: testRange, ResumeFromSeq: &resume})
	require.NoError(t, err)
	assert.Equal(t, 150, res.Processed)

	seqs := h.store.Seqs(testTalker)
	require.Len(t, seqs, 150)
	for _, s := range seqs {
		assert.Greater(t, s, int64(300))
	}

	t.Run("nothing new", func(t *testing.T) {
		calls := h.store.CallCount()
		resume := int64(450)
		rep := &recordingReporter{}
		res, err := h.pipeline.Run(ctx, RunRequest{Talker: testTalker, TimeRange: testRange, ResumeFromSeq: &resume, Reporter: rep})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Processed)
		assert.Equal(t, calls, h.store.CallCount())
		assert.Equal(t, event{progress.StageCompleted, 100, 450, 0}, rep.last())
	})
}

func TestRun_PartialFailure(t *testing.T) {
	failBatch := func(_ context.Context, _ [][]float32, units []core.EmbeddingUnit) error {
		if units[0].Seq() == 201 {
			return errors.New("vector store unavailable")
		}
		return nil
	}

	t.Run("contiguous", func(t *testing.T) {
		h := newHarness(t)
		h.source.AddRecords(testTalker, textRecords(testTalker, 1, 450)...)
		h.store.AddAllFunc = failBatch
		rep := &recordingReporter{}

		res, err := h.run(t, rep)
		require.NoError(t, err, "skipped batches do not fail the run")
		assert.Equal(t, 1, res.SkippedBatches)
		assert.Equal(t, 250, res.Processed)
		assert.Equal(t, int64(200), h.lastSeq(t), "mark stops below the skipped batch")
		assert.Equal(t, event{progress.StageCompleted, 100, 450, 250}, rep.last())

		ctx := context.Background()
		ok, err := h.repo.IsProcessed(ctx, testTalker, 250)
		require.NoError(t, err)
		assert.False(t, ok, "failed batch must not be marked processed")
		ok, _ = h.repo.IsProcessed(ctx, testTalker, 450)
		assert.True(t, ok)

		// the next run picks up exactly the failed batch
		h.store.AddAllFunc = nil
		resume := h.lastSeq(t)
		res, err = h.pipeline.Run(ctx, RunRequest{Talker: testTalker, TimeRange: testRange, ResumeFromSeq: &resume})
		require.NoError(t, err)
		assert.Equal(t, 200, res.Processed)
		assert.Equal(t, int64(450), h.lastSeq(t))
		stored, _ := h.store.CountByTalker(ctx, testTalker)
		assert.Equal(t, 450, stored)
	})

	t.Run("max", func(t *testing.T) {
		h := newHarness(t, WithCheckpointPolicy(PolicyMax))
		h.source.AddRecords(testTalker, textRecords(testTalker, 1, 450)...)
		h.store.AddAllFunc = failBatch

		res, err := h.run(t, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.SkippedBatches)
		assert.Equal(t, int64(450), h.lastSeq(t))
	})
}

func TestRun_OutOfOrderCompletionKeepsCheckpointMonotonic(t *testing.T) {
	h := newHarness(t, WithCheckpointPolicy(PolicyMax), WithBatchSize(50))
	h.source.AddRecords(testTalker, textRecords(testTalker, 1, 200)...)

	// the first batch finishes last
	h.store.AddAllFunc = func(_ context.Context, _ [][]float32, units []core.EmbeddingUnit) error {
		if units[0].Seq() == 1 {
			time.Sleep(100 * time.Millisecond)
		}
		return nil
	}

	res, err := h.run(t, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Processed)
	assert.Equal(t, int64(200), h.lastSeq(t))
	assert.Equal(t, int64(200), res.LastSeq)
}

func TestRun_UnreachablePageIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.source.AddRecords(testTalker, textRecords(testTalker, 1, 450)...)
	h.source.FetchPageFunc = func(_ context.Context, _ string, _, offset int) error {
		if offset == 200 {
			return errors.New("connection reset")
		}
		return nil
	}

	res, err := h.run(t, nil)
	require.NoError(t, err)
	assert.Equal(t, 250, res.Processed)
	// 1 + 2 attempts + 1
	assert.Equal(t, 4, h.source.FetchCalls())
	assert.Equal(t, int64(200), h.lastSeq(t), "mark stays below the missing page")
}

func TestRun_CountFailure(t *testing.T) {
	h := newHarness(t)
	h.source.CountFunc = func(context.Context, string, string) (int, error) {
		return 0, errors.New("chat log down")
	}
	tasks := progress.NewStore()
	tracker := tasks.Start(testTalker, testRange)

	_, err := h.run(t, tracker)
	require.Error(t, err)
	assert.Equal(t, 2, h.source.CountCalls(), "count is retried")

	snap, err := tasks.Get(tracker.TaskID())
	require.NoError(t, err)
	assert.True(t, snap.Failed)
	assert.Contains(t, snap.ErrorMessage, "chat log down")
}

func TestRun_InvalidInput(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name      string
		talker    string
		timeRange string
	}{
		{"empty talker", "", testRange},
		{"blank talker", "   ", testRange},
		{"bad range", testTalker, "yesterday"},
		{"reversed range", testTalker, "2024-03-02~2024-03-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &recordingReporter{}
			_, err := h.pipeline.Run(context.Background(), RunRequest{Talker: tt.talker, TimeRange: tt.timeRange, Reporter: rep})
			assert.ErrorIs(t, err, core.ErrInvalidArgument)
			assert.Equal(t, progress.StageFailed, rep.last().stage)
		})
	}
	assert.Equal(t, 0, h.source.CountCalls())
}

func TestRun_UnknownTalker(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Run(context.Background(), RunRequest{Talker: "ghost", TimeRange: testRange})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_OneRunPerTalker(t *testing.T) {
	h := newHarness(t)
	h.source.AddRecords(testTalker, textRecords(testTalker, 1, 10)...)
	h.source.AddRecords("other", textRecords("other", 1, 10)...)

	started := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	h.store.AddAllFunc = func(_ context.Context, _ [][]float32, units []core.EmbeddingUnit) error {
		if units[0].Talker() == testTalker {
			once.Do(func() { close(started) })
			<-unblock
		}
		return nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := h.run(t, nil)
		errc <- err
	}()
	<-started

	_, err := h.run(t, nil)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.True(t, h.pipeline.Running(testTalker))

	res, err := h.pipeline.Run(context.Background(), RunRequest{Talker: "other", TimeRange: testRange})
	require.NoError(t, err, "other talkers are not blocked")
	assert.Equal(t, 10, res.Processed)

	close(unblock)
	require.NoError(t, <-errc)
	assert.False(t, h.pipeline.Running(testTalker))
}

// failingRepo fails MarkProcessed.
type failingRepo struct {
	storage.SyncStateRepository
}

func (failingRepo) MarkProcessed(context.Context, string, []int64) error {
	return errors.New("disk full")
}

func TestRun_CheckpointFailureIsFatal(t *testing.T) {
	repo, backend, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
		backend.Close()
	})
	h := newHarnessWithRepo(t, failingRepo{repo})
	h.source.AddRecords(testTalker, textRecords(testTalker, 1, 10)...)
	rep := &recordingReporter{}

	_, err = h.run(t, rep)
	assert.ErrorIs(t, err, ErrCheckpointUnavailable)
	assert.Equal(t, progress.StageFailed, rep.last().stage)
	assert.Equal(t, int64(0), h.lastSeq(t))
}

func TestRun_PanickingReporter(t *testing.T) {
	h := newHarness(t)
	h.source.AddRecords(testTalker, textRecords(testTalker, 1, 5)...)
	rep := progress.ReporterFunc(func(progress.Stage, int, int, int) {
		panic("observer bug")
	})

	res, err := h.run(t, rep)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
}

func TestRun_EmbeddingMismatchSkipsBatch(t *testing.T) {
	h := newHarness(t)
	h.source.AddRecords(testTalker, textRecords(testTalker, 1, 5)...)
	h.embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		return make([][]float32, len(texts)-1), nil
	}

	res, err := h.run(t, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedBatches)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, h.store.CallCount())
}
