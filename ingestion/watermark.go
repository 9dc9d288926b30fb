package ingestion

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// CheckpointPolicy decides how far LastSeq moves when a batch commits.
type CheckpointPolicy int

const (
	// PolicyContiguous advances LastSeq only across seqs that are settled:
	// committed, already processed, or ineligible. A skipped batch or an
	// unreachable page holds LastSeq below it, so the next incremental run
	// retries it.
	PolicyContiguous CheckpointPolicy = iota

	// PolicyMax advances LastSeq to the highest seq of any committed batch.
	// Skipped batches below that seq are not retried by incremental runs.
	PolicyMax
)

func (p CheckpointPolicy) String() string {
	switch p {
	case PolicyContiguous:
		return "contiguous"
	case PolicyMax:
		return "max"
	default:
		return fmt.Sprintf("CheckpointPolicy(%d)", int(p))
	}
}

// ParseCheckpointPolicy parses "contiguous" or "max".
func ParseCheckpointPolicy(s string) (CheckpointPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "contiguous":
		return PolicyContiguous, nil
	case "max":
		return PolicyMax, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint policy %q", s)
	}
}

// noCeiling disables the watermark ceiling.
const noCeiling = math.MaxInt64

// watermark tracks which seqs of one run are settled.
type watermark struct {
	policy  CheckpointPolicy
	mu      sync.Mutex
	seqs    []int64 // every candidate seq of the run, ascending, unique
	pending map[int64]int
	batches [][]int64
	ceiling int64
	next    int
}

// newWatermark builds a watermark over the run's candidate seqs. Seqs not
// in any batch count as settled. The mark never passes ceiling.
func newWatermark(policy CheckpointPolicy, candidates []int64, batches [][]int64, ceiling int64) *watermark {
	w := &watermark{
		policy:  policy,
		pending: make(map[int64]int),
		batches: batches,
		ceiling: ceiling,
	}
	seen := make(map[int64]bool, len(candidates))
	for _, s := range candidates {
		if !seen[s] {
			seen[s] = true
			w.seqs = append(w.seqs, s)
		}
	}
	sort.Slice(w.seqs, func(i, j int) bool { return w.seqs[i] < w.seqs[j] })
	for _, b := range batches {
		for _, s := range b {
			w.pending[s]++
		}
	}
	return w
}

// complete marks batch i committed and returns the seq LastSeq may move
// to, if any.
func (w *watermark) complete(i int) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var high int64
	for _, s := range w.batches[i] {
		w.pending[s]--
		high = max(high, s)
	}
	if w.policy == PolicyMax {
		return high, len(w.batches[i]) > 0
	}

	start := w.next
	for w.next < len(w.seqs) && w.seqs[w.next] <= w.ceiling && w.pending[w.seqs[w.next]] <= 0 {
		w.next++
	}
	if w.next == start || w.next == 0 {
		return 0, false
	}
	return w.seqs[w.next-1], true
}
