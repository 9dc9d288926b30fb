// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/chatvec/chatlog"
	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/storage"
)

// CheckpointService owns per-talker sync state. All mutations of one
// talker's checkpoint are serialized; different talkers proceed in
// parallel.
type CheckpointService struct {
	repo   storage.CheckpointRepository
	source chatlog.Source
	locks  *keyedMutex
	now    func() time.Time
	logger *slog.Logger

	lookupAttempts int
	lookupBackoff  time.Duration
}

// CheckpointOption configures a CheckpointService.
type CheckpointOption func(*CheckpointService) error

// WithLookupRetry sets the retry policy of talker lookups made when a
// checkpoint is first created.
func WithLookupRetry(attempts int, baseDelay time.Duration) CheckpointOption {
	return func(s *CheckpointService) error {
		if attempts < 1 {
			return ErrInvalidMaxAttempts
		}
		s.lookupAttempts = attempts
		s.lookupBackoff = baseDelay
		return nil
	}
}

// NewCheckpointService creates a service over repo. source resolves talker
// display names when a checkpoint is first created.
func NewCheckpointService(repo storage.CheckpointRepository, source chatlog.Source, logger *slog.Logger, opts ...CheckpointOption) (*CheckpointService, error) {
	if repo == nil {
		return nil, ErrCheckpointRepositoryRequired
	}
	if source == nil {
		return nil, ErrSourceRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &CheckpointService{
		repo:           repo,
		source:         source,
		locks:          newKeyedMutex(),
		now:            time.Now,
		logger:         logger.With("component", "checkpoints"),
		lookupAttempts: DefaultPageAttempts,
		lookupBackoff:  DefaultPageBackoff,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GetCheckpoint loads the talker's checkpoint, creating and persisting a
// fresh one on first reference. Returns storage.ErrNotFound when the talker
// is unknown upstream.
func (s *CheckpointService) GetCheckpoint(ctx context.Context, talker string) (*core.Checkpoint, error) {
	if err := core.ValidateTalker(talker); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(talker)
	defer unlock()

	cp, err := s.repo.LoadCheckpoint(ctx, talker)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	room, err := s.lookupTalker(ctx, talker)
	if err != nil {
		return nil, err
	}

	cp = &core.Checkpoint{
		Talker:       talker,
		TalkerName:   room.DisplayName(),
		LastSyncTime: s.now(),
	}
	if err := s.repo.SaveCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	s.logger.Info("created checkpoint", "talker", talker, "talkerName", cp.TalkerName)
	return cp, nil
}

// lookupTalker resolves talker upstream, retrying transient failures. An
// unknown talker is final and maps to storage.ErrNotFound.
func (s *CheckpointService) lookupTalker(ctx context.Context, talker string) (*chatlog.Room, error) {
	var (
		room    *chatlog.Room
		missing bool
	)
	err := RetryWithBackoff(ctx, func() error {
		r, err := s.source.LookupTalker(ctx, talker)
		if errors.Is(err, chatlog.ErrTalkerNotFound) {
			missing = true
			return nil
		}
		if err != nil {
			return err
		}
		room = r
		return nil
	}, s.lookupAttempts, s.lookupBackoff)
	if err != nil {
		return nil, fmt.Errorf("lookup talker %s: %w", talker, err)
	}
	if missing {
		return nil, fmt.Errorf("%w: talker %s", storage.ErrNotFound, talker)
	}
	return room, nil
}

// UpdateCheckpoint overwrites a checkpoint.
func (s *CheckpointService) UpdateCheckpoint(ctx context.Context, cp *core.Checkpoint) error {
	if err := core.ValidateCheckpoint(cp); err != nil {
		return err
	}
	unlock := s.locks.lock(cp.Talker)
	defer unlock()
	return s.repo.SaveCheckpoint(ctx, cp)
}

// Advance moves the talker's LastSeq forward to seq and stamps the sync
// time. Smaller or equal seqs leave the checkpoint untouched. Returns the
// resulting LastSeq.
func (s *CheckpointService) Advance(ctx context.Context, talker string, seq int64) (int64, error) {
	unlock := s.locks.lock(talker)
	defer unlock()

	cp, err := s.repo.LoadCheckpoint(ctx, talker)
	if errors.Is(err, storage.ErrNotFound) {
		cp = &core.Checkpoint{Talker: talker}
	} else if err != nil {
		return 0, err
	}
	if seq <= cp.LastSeq {
		return cp.LastSeq, nil
	}

	cp.LastSeq = seq
	cp.LastSyncTime = s.now()
	if err := s.repo.SaveCheckpoint(ctx, cp); err != nil {
		return 0, err
	}
	s.logger.Debug("advanced checkpoint", "talker", talker, "lastSeq", seq)
	return seq, nil
}

// IsProcessed reports whether seq was committed recently.
func (s *CheckpointService) IsProcessed(ctx context.Context, talker string, seq int64) (bool, error) {
	return s.repo.IsProcessed(ctx, talker, seq)
}

// ProcessedSeqs returns which of seqs were committed recently.
func (s *CheckpointService) ProcessedSeqs(ctx context.Context, talker string, seqs []int64) (map[int64]bool, error) {
	return s.repo.ProcessedSeqs(ctx, talker, seqs)
}

// MarkProcessed records seqs as committed.
func (s *CheckpointService) MarkProcessed(ctx context.Context, talker string, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	return s.repo.MarkProcessed(ctx, talker, seqs)
}

// ListAll returns every checkpoint.
func (s *CheckpointService) ListAll(ctx context.Context) ([]*core.Checkpoint, error) {
	return s.repo.ListCheckpoints(ctx)
}

// Lookup returns a stored checkpoint without creating one.
func (s *CheckpointService) Lookup(ctx context.Context, talker string) (*core.Checkpoint, error) {
	if err := core.ValidateTalker(talker); err != nil {
		return nil, err
	}
	return s.repo.LoadCheckpoint(ctx, talker)
}

// DeleteTalker drops the talker's checkpoint and processed set.
func (s *CheckpointService) DeleteTalker(ctx context.Context, talker string) error {
	if err := core.ValidateTalker(talker); err != nil {
		return err
	}
	unlock := s.locks.lock(talker)
	defer unlock()
	return s.repo.DeleteTalker(ctx, talker)
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
