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

package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/storage"
)

// DefaultProcessedTTL bounds how long a processed seq is remembered.
const DefaultProcessedTTL = 24 * time.Hour

// SyncStateRepository implements storage.SyncStateRepository for BadgerDB.
// Processed seqs are stored as individual entries carrying a badger TTL.
type SyncStateRepository struct {
	backend      *Backend
	processedTTL time.Duration
	now          func() time.Time
}

var _ storage.SyncStateRepository = (*SyncStateRepository)(nil)

// RepositoryOption configures a SyncStateRepository.
type RepositoryOption func(*SyncStateRepository)

// WithProcessedTTL sets how long processed seqs are remembered.
// Non-positive values keep the default.
func WithProcessedTTL(ttl time.Duration) RepositoryOption {
	return func(r *SyncStateRepository) {
		if ttl > 0 {
			r.processedTTL = ttl
		}
	}
}

// newSyncStateRepository is the internal constructor returning the concrete type.
func newSyncStateRepository(backend *Backend, opts ...RepositoryOption) (*SyncStateRepository, error) {
	if backend == nil {
		return nil, errors.New("backend required")
	}
	r := &SyncStateRepository{
		backend:      backend,
		processedTTL: DefaultProcessedTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewSyncStateRepository creates a repository over an open backend.
// The caller keeps ownership of the backend.
func NewSyncStateRepository(backend *Backend, opts ...RepositoryOption) (storage.SyncStateRepository, error) {
	return newSyncStateRepository(backend, opts...)
}

func (r *SyncStateRepository) checkOpen() error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return nil
}

// SaveCheckpoint persists the checkpoint for cp.Talker.
func (r *SyncStateRepository) SaveCheckpoint(ctx context.Context, cp *core.Checkpoint) error {
	if err := core.ValidateCheckpoint(cp); err != nil {
		return err
	}
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeCheckpointKey(cp.Talker), storage.MarshalCheckpoint(cp)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// LoadCheckpoint retrieves the checkpoint for a talker.
// Returns storage.ErrNotFound if no checkpoint exists.
func (r *SyncStateRepository) LoadCheckpoint(ctx context.Context, talker string) (*core.Checkpoint, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	var checkpoint *core.Checkpoint
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCheckpointKey(talker))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: checkpoint for %s", storage.ErrNotFound, talker)
			}
			return err
		}

		return item.Value(func(val []byte) error {
			var unmarshalErr error
			checkpoint, unmarshalErr = storage.UnmarshalCheckpoint(val)
			return unmarshalErr
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return checkpoint, nil
}

// ListCheckpoints returns all checkpoints ordered by talker.
func (r *SyncStateRepository) ListCheckpoints(ctx context.Context) ([]*core.Checkpoint, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	var checkpoints []*core.Checkpoint
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(checkpointPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				cp, err := storage.UnmarshalCheckpoint(val)
				if err != nil {
					return err
				}
				checkpoints = append(checkpoints, cp)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return checkpoints, err
}

// IsProcessed reports whether seq is in the talker's unexpired processed set.
func (r *SyncStateRepository) IsProcessed(ctx context.Context, talker string, seq int64) (bool, error) {
	found, err := r.ProcessedSeqs(ctx, talker, []int64{seq})
	if err != nil {
		return false, err
	}
	return found[seq], nil
}

// ProcessedSeqs returns which of seqs are in the talker's processed set.
func (r *SyncStateRepository) ProcessedSeqs(ctx context.Context, talker string, seqs []int64) (map[int64]bool, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	found := make(map[int64]bool)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, seq := range seqs {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := tx.Get(makeProcessedKey(talker, seq))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			found[seq] = true
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return found, nil
}

// MarkProcessed records seqs in one transaction. Each entry expires after
// the configured TTL.
func (r *SyncStateRepository) MarkProcessed(ctx context.Context, talker string, seqs []int64) error {
	if err := core.ValidateTalker(talker); err != nil {
		return err
	}
	if len(seqs) == 0 {
		return nil
	}
	if err := r.checkOpen(); err != nil {
		return err
	}
	stamp := storage.MarshalTimestamp(r.now())
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, seq := range seqs {
			entry := badger.NewEntry(makeProcessedKey(talker, seq), stamp).WithTTL(r.processedTTL)
			if err := tx.SetEntry(entry); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// DeleteTalker removes the checkpoint and processed set of a talker.
func (r *SyncStateRepository) DeleteTalker(ctx context.Context, talker string) error {
	if err := core.ValidateTalker(talker); err != nil {
		return err
	}
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		keys := collectKeys(tx, makeProcessedPrefix(talker))
		keys = append(keys, makeCheckpointKey(talker))
		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// AutoSyncTalkers returns the talkers enrolled in scheduled sync.
func (r *SyncStateRepository) AutoSyncTalkers(ctx context.Context) ([]string, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	var talkers []string
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, key := range collectKeys(tx, []byte(autoSyncPrefix)) {
			talkers = append(talkers, strings.TrimPrefix(string(key), autoSyncPrefix))
		}
		return nil
	}, false)
	slices.Sort(talkers)
	return talkers, err
}

// SetAutoSync enrolls or removes a talker from scheduled sync.
func (r *SyncStateRepository) SetAutoSync(ctx context.Context, talker string, enabled bool) error {
	if err := core.ValidateTalker(talker); err != nil {
		return err
	}
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		if enabled {
			err = tx.Set(makeAutoSyncKey(talker), []byte{1})
		} else {
			err = tx.Delete(makeAutoSyncKey(talker))
		}
		if err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Close is a no-op; the backend is closed by its owner.
func (r *SyncStateRepository) Close() error {
	return nil
}
