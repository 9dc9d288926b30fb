package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/chatvec/storage"
)

// DefaultAutoSyncInterval is how often enrolled talkers are synced.
const DefaultAutoSyncInterval = 10 * time.Minute

// Scheduler periodically runs incremental syncs for every talker enrolled
// in auto-sync.
type Scheduler struct {
	syncer   *Syncer
	repo     storage.AutoSyncRepository
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler. A non-positive interval selects
// DefaultAutoSyncInterval.
func NewScheduler(syncer *Syncer, repo storage.AutoSyncRepository, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer required")
	}
	if repo == nil {
		return nil, ErrCheckpointRepositoryRequired
	}
	if interval <= 0 {
		interval = DefaultAutoSyncInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		syncer:   syncer,
		repo:     repo,
		interval: interval,
		logger:   logger.With("component", "autosync"),
	}, nil
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("auto sync started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto sync stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce syncs every enrolled talker once, in name order, and returns how
// many runs succeeded. Failures are logged and do not stop the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	talkers, err := s.repo.AutoSyncTalkers(ctx)
	if err != nil {
		s.logger.Error("error listing auto sync talkers", "err", err)
		return 0
	}

	ok := 0
	for _, talker := range talkers {
		if ctx.Err() != nil {
			break
		}
		res, err := s.syncer.SyncIncremental(ctx, talker, nil)
		switch {
		case err == nil:
			ok++
			s.logger.Info("auto sync finished", "talker", talker, "processed", res.Processed, "lastSeq", res.LastSeq)
		case errors.Is(err, ErrSyncInProgress):
			s.logger.Info("auto sync skipped, sync in progress", "talker", talker)
		case errors.Is(err, ErrInitialSyncRequired):
			s.logger.Warn("auto sync skipped, talker never synced", "talker", talker)
		default:
			s.logger.Error("auto sync failed", "talker", talker, "err", err)
		}
	}
	return ok
}
