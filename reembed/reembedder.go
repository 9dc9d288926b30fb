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

package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/chatvec/ai"
	"github.com/poiesic/chatvec/core"
)

// DocumentStore is the part of the vector store the reembedder reads and
// rewrites.
type DocumentStore interface {
	Talkers(ctx context.Context) ([]string, error)
	Units(ctx context.Context, talker string) ([]core.EmbeddingUnit, error)
	AddAll(ctx context.Context, vectors [][]float32, units []core.EmbeddingUnit) ([]string, error)
}

type Config struct {
	// BatchSize is the number of documents embedded per request
	BatchSize int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per batch
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

type Reembedder struct {
	store     DocumentStore
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *DocumentIterator
	logger    *slog.Logger
}

// NewReembedder returns a Reembedder writing human readable progress to
// progress. A nil config uses DefaultConfig.
func NewReembedder(store DocumentStore, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		store:     store,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(store, embedder, config.MaxRetries, config.RetryDelay),
		iterator:  NewDocumentIterator(store, config.BatchSize),
		logger:    slog.Default().With("component", "reembedder"),
	}, nil
}

// Run re-embeds every document of talker, or of all talkers when talker is
// empty, and returns the number of documents rewritten.
func (r *Reembedder) Run(ctx context.Context, talker string) (int, error) {
	talkers := []string{talker}
	if talker == "" {
		var err error
		if talkers, err = r.store.Talkers(ctx); err != nil {
			return 0, fmt.Errorf("failed to list talkers: %w", err)
		}
	}

	total := 0
	counts := make(map[string]int, len(talkers))
	for _, t := range talkers {
		units, err := r.store.Units(ctx, t)
		if err != nil {
			return 0, fmt.Errorf("failed to load documents for %s: %w", t, err)
		}
		counts[t] = len(units)
		total += len(units)
	}

	if total == 0 {
		fmt.Fprintf(r.progress, "No documents found in vector store (0 records)\n")
		return 0, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d records across %d talkers (batch size: %d)\n",
		total, len(talkers), r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	processed := 0
	for _, t := range talkers {
		if counts[t] == 0 {
			continue
		}
		err := r.iterator.ForEach(ctx, t, func(units []core.EmbeddingUnit) error {
			if err := r.processor.Process(ctx, units); err != nil {
				return fmt.Errorf("failed to process batch for %s: %w", t, err)
			}
			processed += len(units)
			tracker.Update(processed)
			return nil
		})
		if err != nil {
			return processed, err
		}
		r.logger.Info("talker reembedded", "talker", t, "count", counts[t])
	}

	tracker.Finish()

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d records in %v (%.1f records/sec)\n",
		processed, elapsed.Round(time.Second), float64(processed)/elapsed.Seconds())

	return processed, nil
}
