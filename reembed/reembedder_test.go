package reembed

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	aimock "github.com/poiesic/chatvec/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(batch, report int) *Config {
	return &Config{
		BatchSize:      batch,
		ReportInterval: report,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	}
}

func TestNewReembedder_Validation(t *testing.T) {
	store := setupTestStore(t)

	_, err := NewReembedder(nil, aimock.NewMockEmbedder(), nil, nil)
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewReembedder(store, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	r, err := NewReembedder(store, aimock.NewMockEmbedder(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), r.config)
}

func TestReembedder_Run(t *testing.T) {
	store := setupTestStore(t)
	seed(t, store, "alice", 10)
	ctx := context.Background()

	embedder := aimock.NewMockEmbedder()
	embedder.EmbedTextsFunc = unnormalized

	var buf bytes.Buffer
	r, err := NewReembedder(store, embedder, testConfig(3, 3), &buf)
	require.NoError(t, err)

	n, err := r.Run(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 4, embedder.CallCount())

	docs, err := store.Documents(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, docs, 10)
	for _, d := range docs {
		assert.InDelta(t, 1.0/3, d.Embedding[0], 1e-6, "seq %d re-embedded", d.Seq)
		assert.InDelta(t, 1.0, magnitude(d.Embedding), 1e-6)
	}

	assert.Contains(t, buf.String(), "10/10", "should show completion")
}

func TestReembedder_AllTalkers(t *testing.T) {
	store := setupTestStore(t)
	seed(t, store, "alice", 4)
	seed(t, store, "bob", 6)
	ctx := context.Background()

	var buf bytes.Buffer
	r, err := NewReembedder(store, aimock.NewMockEmbedder(), testConfig(5, 5), &buf)
	require.NoError(t, err)

	n, err := r.Run(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Contains(t, buf.String(), "across 2 talkers")

	for _, talker := range []string{"alice", "bob"} {
		docs, err := store.Documents(ctx, talker)
		require.NoError(t, err)
		for _, d := range docs {
			assert.NotEqual(t, []float32{0, 0, 1}, d.Embedding)
		}
	}
}

func TestReembedder_EmptyStore(t *testing.T) {
	store := setupTestStore(t)

	var buf bytes.Buffer
	r, err := NewReembedder(store, aimock.NewMockEmbedder(), DefaultConfig(), &buf)
	require.NoError(t, err)

	n, err := r.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, buf.String(), "0 records", "should report zero records")
}

func TestReembedder_ContextCancellation(t *testing.T) {
	store := setupTestStore(t)
	seed(t, store, "alice", 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	embedder := aimock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 2 {
			cancel()
			return nil, ctx.Err()
		}
		return unnormalized(ctx, texts)
	}

	r, err := NewReembedder(store, embedder, testConfig(3, 3), nil)
	require.NoError(t, err)

	n, err := r.Run(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, n, "first batch was written before cancellation")
}

func TestReembedder_EmbeddingError(t *testing.T) {
	store := setupTestStore(t)
	seed(t, store, "alice", 1)

	embedder := aimock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("persistent error")
	}

	r, err := NewReembedder(store, embedder, testConfig(1, 1), nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistent error")
	assert.Contains(t, err.Error(), "alice")
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Greater(t, config.BatchSize, 0, "batch size should be positive")
	assert.Greater(t, config.ReportInterval, 0, "report interval should be positive")
	assert.Greater(t, config.MaxRetries, 0, "max retries should be positive")
	assert.Greater(t, config.RetryDelay, time.Duration(0), "retry delay should be positive")
}

func TestReembedder_ProgressTracking(t *testing.T) {
	store := setupTestStore(t)
	seed(t, store, "alice", 25)

	var buf bytes.Buffer
	r, err := NewReembedder(store, aimock.NewMockEmbedder(), testConfig(5, 10), &buf)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "alice")
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Progress:", "should show progress")
	assert.Contains(t, output, "10/25")
	assert.Contains(t, output, "25/25", "should show final count")
}
