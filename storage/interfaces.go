package storage

import (
	"context"

	"github.com/poiesic/chatvec/core"
)

// CheckpointRepository persists per-talker sync state.
// Implementations must be thread-safe and support concurrent access.
type CheckpointRepository interface {
	// LoadCheckpoint retrieves the checkpoint for a talker.
	// Returns ErrNotFound if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, talker string) (*core.Checkpoint, error)

	// SaveCheckpoint creates or overwrites the checkpoint for cp.Talker.
	SaveCheckpoint(ctx context.Context, cp *core.Checkpoint) error

	// ListCheckpoints returns every stored checkpoint ordered by talker.
	ListCheckpoints(ctx context.Context) ([]*core.Checkpoint, error)

	// IsProcessed reports whether seq was marked processed for talker and
	// the mark has not expired.
	IsProcessed(ctx context.Context, talker string, seq int64) (bool, error)

	// ProcessedSeqs returns the subset of seqs that are marked processed.
	ProcessedSeqs(ctx context.Context, talker string, seqs []int64) (map[int64]bool, error)

	// MarkProcessed records all seqs as processed in a single atomic write.
	MarkProcessed(ctx context.Context, talker string, seqs []int64) error

	// DeleteTalker removes the checkpoint and processed-seq set for talker.
	// Deleting an unknown talker is not an error.
	DeleteTalker(ctx context.Context, talker string) error

	// Close releases resources held by the repository.
	Close() error
}

// AutoSyncRepository stores the set of talkers enrolled in scheduled
// incremental sync.
type AutoSyncRepository interface {
	// AutoSyncTalkers returns the enrolled talkers ordered by name.
	AutoSyncTalkers(ctx context.Context) ([]string, error)

	// SetAutoSync enrolls or removes a talker.
	SetAutoSync(ctx context.Context, talker string, enabled bool) error
}

// SyncStateRepository is the combined persistence a sync service needs.
type SyncStateRepository interface {
	CheckpointRepository
	AutoSyncRepository
}
