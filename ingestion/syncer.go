package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/progress"
	"github.com/poiesic/chatvec/storage"
)

// Syncer chooses between full and incremental runs and manages the
// lifecycle of synced talkers.
type Syncer struct {
	pipeline    *Pipeline
	checkpoints *CheckpointService
	autoSync    storage.AutoSyncRepository
	now         func() time.Time
	logger      *slog.Logger
}

// NewSyncer creates a syncer. autoSync may be nil when scheduled sync is
// not used.
func NewSyncer(pipeline *Pipeline, autoSync storage.AutoSyncRepository, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		pipeline:    pipeline,
		checkpoints: pipeline.checkpoints,
		autoSync:    autoSync,
		now:         time.Now,
		logger:      logger.With("component", "syncer"),
	}
}

// Pipeline returns the underlying pipeline.
func (s *Syncer) Pipeline() *Pipeline {
	return s.pipeline
}

// Sync runs a full sync over timeRange for a talker that has never been
// synced, and an incremental sync from its checkpoint otherwise.
func (s *Syncer) Sync(ctx context.Context, talker, timeRange string, reporter progress.Reporter) (*RunResult, error) {
	if err := validateInput(talker, timeRange); err != nil {
		newRunReporter(reporter, s.logger).fail(0, 0, 0, err)
		return nil, err
	}
	req, err := s.plan(ctx, talker, timeRange)
	if err != nil {
		newRunReporter(reporter, s.logger).fail(0, 0, 0, err)
		return nil, err
	}
	req.Reporter = reporter
	return s.pipeline.Run(ctx, req)
}

// SyncIncremental syncs everything newer than the talker's checkpoint.
// Returns ErrInitialSyncRequired if the talker was never fully synced.
func (s *Syncer) SyncIncremental(ctx context.Context, talker string, reporter progress.Reporter) (*RunResult, error) {
	cp, err := s.checkpoints.GetCheckpoint(ctx, talker)
	if err != nil {
		return nil, err
	}
	if cp.LastSeq == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInitialSyncRequired, talker)
	}
	req := s.incremental(cp)
	req.Reporter = reporter
	return s.pipeline.Run(ctx, req)
}

// SyncAsync validates the request and claims the talker's run slot before
// returning, then runs in the background. done, if non-nil, receives the
// outcome.
func (s *Syncer) SyncAsync(ctx context.Context, talker, timeRange string, reporter progress.Reporter, done func(*RunResult, error)) error {
	rep := newRunReporter(reporter, s.logger)

	if err := validateInput(talker, timeRange); err != nil {
		rep.fail(0, 0, 0, err)
		return err
	}
	req, err := s.plan(ctx, talker, timeRange)
	if err != nil {
		rep.fail(0, 0, 0, err)
		return err
	}
	tr, err := validateRequest(req)
	if err != nil {
		rep.fail(0, 0, 0, err)
		return err
	}
	release, ok := s.pipeline.guard.acquire(talker)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrSyncInProgress, talker)
		rep.fail(0, 0, 0, err)
		return err
	}

	go func() {
		defer release()
		res, err := s.pipeline.run(ctx, talker, tr, req.ResumeFromSeq, rep)
		if err != nil {
			s.logger.Error("background sync failed", "talker", talker, "err", err)
		}
		if done != nil {
			done(res, err)
		}
	}()
	return nil
}

// validateInput rejects a bad talker or time range before any checkpoint
// is read or created. The range is checked even when the talker already
// has a checkpoint and the run will be incremental.
func validateInput(talker, timeRange string) error {
	if err := core.ValidateTalker(talker); err != nil {
		return err
	}
	_, err := core.ParseTimeRange(timeRange)
	return err
}

// plan builds the run request for talker.
func (s *Syncer) plan(ctx context.Context, talker, timeRange string) (RunRequest, error) {
	cp, err := s.checkpoints.GetCheckpoint(ctx, talker)
	if err != nil {
		return RunRequest{}, err
	}
	if cp.LastSeq == 0 {
		return RunRequest{Talker: talker, TimeRange: timeRange}, nil
	}
	return s.incremental(cp), nil
}

func (s *Syncer) incremental(cp *core.Checkpoint) RunRequest {
	seq := cp.LastSeq
	window := core.IncrementalRange(cp.LastSyncTime, s.now())
	s.logger.Debug("planned incremental sync", "talker", cp.Talker, "lastSeq", seq, "window", window.String())
	return RunRequest{
		Talker:        cp.Talker,
		TimeRange:     window.String(),
		ResumeFromSeq: &seq,
	}
}

// Synced returns every checkpoint when talker is empty, otherwise the
// talker's checkpoint.
func (s *Syncer) Synced(ctx context.Context, talker string) ([]*core.Checkpoint, error) {
	if talker == "" {
		return s.checkpoints.ListAll(ctx)
	}
	cp, err := s.checkpoints.Lookup(ctx, talker)
	if err != nil {
		return nil, err
	}
	return []*core.Checkpoint{cp}, nil
}

// DeleteTalker removes a talker's vectors, checkpoint, processed set and
// auto-sync enrollment. A running sync for the talker blocks deletion.
func (s *Syncer) DeleteTalker(ctx context.Context, talker string) error {
	if err := core.ValidateTalker(talker); err != nil {
		return err
	}
	release, ok := s.pipeline.guard.acquire(talker)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSyncInProgress, talker)
	}
	defer release()

	var errs []error
	if err := s.pipeline.store.RemoveByTalker(ctx, talker); err != nil {
		errs = append(errs, fmt.Errorf("remove vectors: %w", err))
	}
	if err := s.checkpoints.DeleteTalker(ctx, talker); err != nil {
		errs = append(errs, fmt.Errorf("delete checkpoint: %w", err))
	}
	if s.autoSync != nil {
		if err := s.autoSync.SetAutoSync(ctx, talker, false); err != nil {
			errs = append(errs, fmt.Errorf("disable auto sync: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("deleted talker", "talker", talker)
	return nil
}
