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

// Package storage provides the persistence abstraction for sync state.
//
// It defines the repository interfaces the sync pipeline depends on. Two
// backends implement them: storage/badger (embedded, the default) and
// storage/redis (shared between processes).
//
// # Constructor Return Type Pattern
//
// Public backend constructors return the storage interfaces so callers never
// couple to a specific backend:
//
//	repo, err := badger.NewSyncStateRepository(backend) // storage.SyncStateRepository
//
// # Data
//
//   - Checkpoint: the highest committed seq and last sync time per talker
//   - Processed seq set: per talker, seq to processed-at, expiring after a TTL
//   - Auto-sync list: talkers enrolled in scheduled incremental sync
//
// # Thread Safety
//
// All repository implementations must be thread-safe. MarkProcessed writes
// are atomic: either every seq in the call is recorded or none is.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
