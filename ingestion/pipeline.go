package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/chatvec/ai"
	"github.com/poiesic/chatvec/chatlog"
	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/progress"
	"github.com/poiesic/chatvec/storage"
	"github.com/poiesic/chatvec/vectorstore"
)

// Defaults
const (
	DefaultPageSize       = 200
	DefaultBatchSize      = 200
	DefaultPoolSize       = 4
	DefaultPageAttempts   = 4
	DefaultPageBackoff    = time.Second
	DefaultBatchAttempts  = 3
	DefaultBatchBackoff   = 2 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Pipeline runs sync jobs: it pages records out of the chat log, embeds
// the eligible ones and writes them to the vector store, advancing the
// talker's checkpoint as batches commit.
type Pipeline struct {
	source         chatlog.Source
	checkpoints    *CheckpointService
	batches        *batchProcessor
	store          vectorstore.Store
	pool           *ants.Pool
	guard          *runGuard
	poolSize       int
	pageSize       int
	batchSize      int
	pageAttempts   int
	pageBackoff    time.Duration
	batchAttempts  int
	batchBackoff   time.Duration
	requestTimeout time.Duration
	policy         CheckpointPolicy
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size shared by page fetches and batch
// commits. Default is 4.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.poolSize = size
		return nil
	}
}

// WithPageSize sets how many records are requested per page.
func WithPageSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("page size must be positive, got %d", size)
		}
		p.pageSize = size
		return nil
	}
}

// WithBatchSize sets how many units are embedded and stored together.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		p.batchSize = size
		return nil
	}
}

// WithPageRetry sets the retry policy of count and page requests.
func WithPageRetry(attempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if attempts < 1 {
			return ErrInvalidMaxAttempts
		}
		p.pageAttempts = attempts
		p.pageBackoff = baseDelay
		return nil
	}
}

// WithBatchRetry sets the retry policy of batch commits.
func WithBatchRetry(attempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if attempts < 1 {
			return ErrInvalidMaxAttempts
		}
		p.batchAttempts = attempts
		p.batchBackoff = baseDelay
		return nil
	}
}

// WithRequestTimeout bounds every single external call.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) error {
		if timeout <= 0 {
			return fmt.Errorf("request timeout must be positive, got %s", timeout)
		}
		p.requestTimeout = timeout
		return nil
	}
}

// WithCheckpointPolicy selects how LastSeq advances.
// Default is PolicyContiguous.
func WithCheckpointPolicy(policy CheckpointPolicy) Option {
	return func(p *Pipeline) error {
		p.policy = policy
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new sync pipeline.
func NewPipeline(
	source chatlog.Source,
	embedder ai.Embedder,
	store vectorstore.Store,
	checkpoints *CheckpointService,
	opts ...Option,
) (*Pipeline, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if store == nil {
		return nil, ErrVectorStoreRequired
	}
	if checkpoints == nil {
		return nil, ErrCheckpointRepositoryRequired
	}

	p := &Pipeline{
		source:         source,
		checkpoints:    checkpoints,
		store:          store,
		guard:          newRunGuard(),
		poolSize:       DefaultPoolSize,
		pageSize:       DefaultPageSize,
		batchSize:      DefaultBatchSize,
		pageAttempts:   DefaultPageAttempts,
		pageBackoff:    DefaultPageBackoff,
		batchAttempts:  DefaultBatchAttempts,
		batchBackoff:   DefaultBatchBackoff,
		requestTimeout: DefaultRequestTimeout,
		policy:         PolicyContiguous,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "pipeline")

	// Create the processor and pool after options are applied so they get final config
	batches, err := newBatchProcessor(embedder, store, p.batchAttempts, p.batchBackoff, p.requestTimeout, p.logger)
	if err != nil {
		return nil, err
	}
	p.batches = batches

	pool, err := ants.NewPool(p.poolSize)
	if err != nil {
		return nil, err
	}
	p.pool = pool

	return p, nil
}

// RunRequest describes one sync run.
type RunRequest struct {
	Talker    string
	TimeRange string

	// ResumeFromSeq, when set, drops records with seq <= *ResumeFromSeq.
	ResumeFromSeq *int64

	// Reporter receives progress. Nil discards it.
	Reporter progress.Reporter
}

// RunResult summarizes a finished run.
type RunResult struct {
	Talker         string
	TotalCount     int
	Eligible       int
	Processed      int
	Batches        int
	SkippedBatches int
	LastSeq        int64
	Duration       time.Duration
}

// Run executes one sync run and blocks until it finishes. A second run for
// a talker that already has one in flight fails with ErrSyncInProgress.
//
// Unreachable pages and batches that keep failing are logged and skipped;
// the run still completes. The run fails on invalid input, when the record
// count cannot be obtained, or when the checkpoint store fails.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	rep := newRunReporter(req.Reporter, p.logger)

	timeRange, err := validateRequest(req)
	if err != nil {
		rep.fail(0, 0, 0, err)
		return nil, err
	}

	release, ok := p.guard.acquire(req.Talker)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrSyncInProgress, req.Talker)
		rep.fail(0, 0, 0, err)
		return nil, err
	}
	defer release()

	return p.run(ctx, req.Talker, timeRange, req.ResumeFromSeq, rep)
}

func validateRequest(req RunRequest) (string, error) {
	if err := core.ValidateTalker(req.Talker); err != nil {
		return "", err
	}
	tr, err := core.ParseTimeRange(req.TimeRange)
	if err != nil {
		return "", err
	}
	return tr.String(), nil
}

// run executes a run whose guard the caller already holds.
func (p *Pipeline) run(ctx context.Context, talker, timeRange string, resumeFrom *int64, rep *runReporter) (*RunResult, error) {
	start := time.Now()
	logger := p.logger.With("talker", talker, "time", timeRange)
	result := &RunResult{Talker: talker}

	rep.report(progress.StageFetching, 5, 0, 0)
	logger.Info("starting sync")

	cp, err := p.checkpoints.GetCheckpoint(ctx, talker)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("%w: %w", ErrCheckpointUnavailable, err)
		}
		rep.fail(5, 0, 0, err)
		return nil, err
	}
	result.LastSeq = cp.LastSeq

	total, err := p.count(ctx, talker, timeRange)
	if err != nil {
		logger.Error("error counting records", "err", err)
		rep.fail(5, 0, 0, err)
		return nil, fmt.Errorf("count records: %w", err)
	}
	result.TotalCount = total
	logger.Info("counted records", "total", total)

	if total == 0 {
		rep.report(progress.StageCompleted, 100, 0, 0)
		result.Duration = time.Since(start)
		return result, nil
	}

	fetched, err := p.fetchAll(ctx, talker, timeRange, total, rep, logger)
	if err != nil {
		rep.fail(rep.last(), total, 0, err)
		return nil, err
	}

	candidates := resumeAfter(fetched.records, resumeFrom)
	records, err := p.dropProcessed(ctx, talker, candidates)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrCheckpointUnavailable, err)
		rep.fail(rep.last(), total, 0, err)
		return nil, err
	}
	if len(records) == 0 && resumeFrom != nil {
		logger.Info("no new records since checkpoint", "lastSeq", *resumeFrom)
		rep.report(progress.StageCompleted, 100, total, 0)
		result.Duration = time.Since(start)
		return result, nil
	}

	units := toUnits(records, logger)
	result.Eligible = len(units)
	rep.report(progress.StageProcessing, 60, total, 0)

	batches := partition(units, p.batchSize)
	result.Batches = len(batches)
	logger.Info("committing batches", "eligible", len(units), "batches", len(batches))

	candidateSeqs := make([]int64, len(candidates))
	for i, r := range candidates {
		candidateSeqs[i] = r.Seq
	}
	stats, err := p.commitAll(ctx, talker, total, batches, candidateSeqs, fetched.ceiling, rep, logger)
	result.Processed = stats.processed
	result.SkippedBatches = stats.skipped
	result.LastSeq = max(result.LastSeq, stats.lastSeq)
	result.Duration = time.Since(start)
	if err != nil {
		logger.Error("sync failed", "err", err, "processed", stats.processed)
		rep.fail(rep.last(), total, stats.processed, err)
		return result, err
	}

	rep.report(progress.StageCompleted, 100, total, stats.processed)
	logger.Info("sync completed",
		"total", total,
		"eligible", result.Eligible,
		"processed", result.Processed,
		"skippedBatches", result.SkippedBatches,
		"lastSeq", result.LastSeq,
		"duration", result.Duration)
	return result, nil
}

func (p *Pipeline) count(ctx context.Context, talker, timeRange string) (int, error) {
	var total int
	err := RetryWithBackoff(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
		n, err := p.source.Count(reqCtx, talker, timeRange)
		if err != nil {
			return err
		}
		total = n
		return nil
	}, p.pageAttempts, p.pageBackoff)
	return total, err
}

type fetchResult struct {
	records []core.ChatRecord

	// ceiling is the highest seq known to precede the first unreachable
	// page, or noCeiling when every page arrived.
	ceiling int64
}

// fetchAll pulls every page through the pool and returns the records
// merged in page order and sorted by seq.
func (p *Pipeline) fetchAll(ctx context.Context, talker, timeRange string, total int, rep *runReporter, logger *slog.Logger) (*fetchResult, error) {
	pages := (total + p.pageSize - 1) / p.pageSize
	results := make([][]core.ChatRecord, pages)
	failed := make([]bool, pages)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for page := 0; page < pages; page++ {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[page], failed[page] = p.fetchPage(ctx, talker, timeRange, page, logger)

			mu.Lock()
			done++
			rep.report(progress.StageFetching, 5+55*done/pages, total, 0)
			mu.Unlock()
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("submit page %d: %w", page, err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &fetchResult{ceiling: noCeiling}
	for i, page := range results {
		if failed[i] && out.ceiling == noCeiling {
			out.ceiling = math.MinInt64
			for _, r := range out.records {
				out.ceiling = max(out.ceiling, r.Seq)
			}
		}
		out.records = append(out.records, page...)
	}
	sort.SliceStable(out.records, func(i, j int) bool {
		return out.records[i].Seq < out.records[j].Seq
	})
	return out, nil
}

// fetchPage reports failed when the page stays unreachable after retries.
func (p *Pipeline) fetchPage(ctx context.Context, talker, timeRange string, page int, logger *slog.Logger) (records []core.ChatRecord, failed bool) {
	offset := page * p.pageSize
	err := RetryWithBackoff(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
		recs, err := p.source.FetchPage(reqCtx, talker, timeRange, p.pageSize, offset)
		if err != nil {
			return err
		}
		records = recs
		return nil
	}, p.pageAttempts, p.pageBackoff)
	if err != nil {
		logger.Warn("skipping unreachable page", "page", page, "offset", offset, "err", err)
		return nil, true
	}
	return records, false
}

// resumeAfter keeps records above resumeFrom.
func resumeAfter(records []core.ChatRecord, resumeFrom *int64) []core.ChatRecord {
	if resumeFrom == nil {
		return records
	}
	out := make([]core.ChatRecord, 0, len(records))
	for _, r := range records {
		if r.Seq > *resumeFrom {
			out = append(out, r)
		}
	}
	return out
}

// dropProcessed removes records committed by earlier runs.
func (p *Pipeline) dropProcessed(ctx context.Context, talker string, records []core.ChatRecord) ([]core.ChatRecord, error) {
	if len(records) == 0 {
		return records, nil
	}
	seqs := make([]int64, len(records))
	for i, r := range records {
		seqs[i] = r.Seq
	}
	processed, err := p.checkpoints.ProcessedSeqs(ctx, talker, seqs)
	if err != nil {
		return nil, err
	}

	out := make([]core.ChatRecord, 0, len(records))
	for _, r := range records {
		if !processed[r.Seq] {
			out = append(out, r)
		}
	}
	if dropped := len(records) - len(out); dropped > 0 {
		p.logger.Debug("dropped already processed records", "talker", talker, "dropped", dropped)
	}
	return out, nil
}

type commitStats struct {
	processed int
	skipped   int
	lastSeq   int64
}

// commitAll runs every batch through the pool. A checkpoint store failure
// cancels the remaining batches and is returned.
func (p *Pipeline) commitAll(ctx context.Context, talker string, total int, batches [][]core.EmbeddingUnit, candidates []int64, ceiling int64, rep *runReporter, logger *slog.Logger) (commitStats, error) {
	seqs := make([][]int64, len(batches))
	for i, b := range batches {
		seqs[i] = seqsOf(b)
	}
	mark := newWatermark(p.policy, candidates, seqs, ceiling)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		stats commitStats
	)
	for i, batch := range batches {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if runCtx.Err() != nil {
				return
			}

			if err := p.batches.process(runCtx, batch); err != nil {
				if runCtx.Err() != nil {
					return
				}
				logger.Warn("skipping batch", "batch", i, "units", len(batch),
					"firstSeq", seqs[i][0], "lastSeq", seqs[i][len(seqs[i])-1], "err", err)
				mu.Lock()
				stats.skipped++
				mu.Unlock()
				return
			}

			if err := p.checkpoints.MarkProcessed(runCtx, talker, seqs[i]); err != nil {
				cancel(fmt.Errorf("%w: mark processed: %w", ErrCheckpointUnavailable, err))
				return
			}
			lastSeq := int64(-1)
			if seq, ok := mark.complete(i); ok {
				advanced, err := p.checkpoints.Advance(runCtx, talker, seq)
				if err != nil {
					cancel(fmt.Errorf("%w: advance: %w", ErrCheckpointUnavailable, err))
					return
				}
				lastSeq = advanced
			}

			mu.Lock()
			stats.processed += len(batch)
			stats.lastSeq = max(stats.lastSeq, lastSeq)
			rep.report(progress.StageStoring, 60+40*stats.processed/total, total, stats.processed)
			mu.Unlock()
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			cancel(fmt.Errorf("submit batch %d: %w", i, err))
			break
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if runCtx.Err() != nil {
		return stats, context.Cause(runCtx)
	}
	return stats, nil
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// runGuard admits at most one run per talker.
type runGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunGuard() *runGuard {
	return &runGuard{running: make(map[string]struct{})}
}

func (g *runGuard) acquire(talker string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[talker]; busy {
		return nil, false
	}
	g.running[talker] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.running, talker)
		g.mu.Unlock()
	}, true
}

// Running reports whether talker has a run in flight.
func (p *Pipeline) Running(talker string) bool {
	p.guard.mu.Lock()
	defer p.guard.mu.Unlock()
	_, busy := p.guard.running[talker]
	return busy
}

// runReporter serializes reports for one run and shields the run from
// panicking reporters.
type runReporter struct {
	mu       sync.Mutex
	reporter progress.Reporter
	pct      int
	logger   *slog.Logger
}

func newRunReporter(r progress.Reporter, logger *slog.Logger) *runReporter {
	if r == nil {
		r = progress.Nop
	}
	return &runReporter{reporter: r, logger: logger}
}

func (r *runReporter) report(stage progress.Stage, pct, total, processed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pct = pct
	r.safeReport(func() { r.reporter.Report(stage, pct, total, processed) })
}

func (r *runReporter) fail(pct, total, processed int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.safeReport(func() { progress.ReportFailure(r.reporter, pct, total, processed, err) })
}

func (r *runReporter) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pct
}

func (r *runReporter) safeReport(fn func()) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Warn("progress reporter panicked", "panic", v)
		}
	}()
	fn()
}
