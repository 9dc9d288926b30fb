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

	"github.com/poiesic/chatvec/core"
)

const (
	// DefaultBatchSize is the default number of documents per batch
	DefaultBatchSize = 100
)

// UnitSource loads a talker's stored units.
type UnitSource interface {
	Units(ctx context.Context, talker string) ([]core.EmbeddingUnit, error)
}

type DocumentIterator struct {
	source    UnitSource
	batchSize int
}

func NewDocumentIterator(source UnitSource, batchSize int) *DocumentIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &DocumentIterator{
		source:    source,
		batchSize: batchSize,
	}
}

// ForEach calls fn with consecutive batches of talker's units in seq order.
// It stops at the first error from fn or when ctx is cancelled.
func (it *DocumentIterator) ForEach(ctx context.Context, talker string, fn func([]core.EmbeddingUnit) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	units, err := it.source.Units(ctx, talker)
	if err != nil {
		return err
	}

	for start := 0; start < len(units); start += it.batchSize {
		end := min(start+it.batchSize, len(units))
		if err := fn(units[start:end]); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return nil
}
