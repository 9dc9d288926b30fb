package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermark_Contiguous(t *testing.T) {
	w := newWatermark(PolicyContiguous, []int64{1, 2, 3, 4, 5, 6, 9}, [][]int64{{1, 2, 3}, {4, 5}, {6, 9}}, noCeiling)

	_, ok := w.complete(2)
	assert.False(t, ok, "batch 2 cannot move the mark past pending batches")

	seq, ok := w.complete(0)
	require.True(t, ok)
	assert.Equal(t, int64(3), seq)

	seq, ok = w.complete(1)
	require.True(t, ok)
	assert.Equal(t, int64(9), seq, "completing the gap releases later batches")
}

func TestWatermark_SettledSeqsOutsideBatches(t *testing.T) {
	// 4 and 7 were already processed or ineligible
	w := newWatermark(PolicyContiguous, []int64{1, 2, 3, 4, 5, 6, 7}, [][]int64{{1, 2, 3}, {5, 6}}, noCeiling)

	seq, ok := w.complete(0)
	require.True(t, ok)
	assert.Equal(t, int64(4), seq)

	seq, ok = w.complete(1)
	require.True(t, ok)
	assert.Equal(t, int64(7), seq)
}

func TestWatermark_ContiguousStopsAtSkippedBatch(t *testing.T) {
	w := newWatermark(PolicyContiguous, []int64{10, 20, 30}, [][]int64{{10}, {20}, {30}}, noCeiling)

	seq, ok := w.complete(0)
	require.True(t, ok)
	assert.Equal(t, int64(10), seq)

	// batch 1 never completes
	_, ok = w.complete(2)
	assert.False(t, ok)
}

func TestWatermark_Ceiling(t *testing.T) {
	w := newWatermark(PolicyContiguous, []int64{1, 2, 8, 9}, [][]int64{{1, 2}, {8, 9}}, 2)

	_, ok := w.complete(1)
	assert.False(t, ok)

	seq, ok := w.complete(0)
	require.True(t, ok)
	assert.Equal(t, int64(2), seq, "mark stops at the ceiling")
}

func TestWatermark_Max(t *testing.T) {
	w := newWatermark(PolicyMax, []int64{1, 2, 3, 4}, [][]int64{{1, 2}, {3, 4}}, 2)

	seq, ok := w.complete(1)
	require.True(t, ok)
	assert.Equal(t, int64(4), seq)

	seq, ok = w.complete(0)
	require.True(t, ok)
	assert.Equal(t, int64(2), seq)
}

func TestParseCheckpointPolicy(t *testing.T) {
	p, err := ParseCheckpointPolicy("MAX")
	require.NoError(t, err)
	assert.Equal(t, PolicyMax, p)

	p, err = ParseCheckpointPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyContiguous, p)
	assert.Equal(t, "contiguous", p.String())

	_, err = ParseCheckpointPolicy("newest")
	assert.Error(t, err)
}
