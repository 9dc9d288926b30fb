package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// BatchingEmbedder splits large requests into sub-batches no bigger than the
// service limit and reassembles the results in input order.
type BatchingEmbedder struct {
	embedder     Embedder
	maxBatchSize int
	logger       *slog.Logger
}

var _ Embedder = (*BatchingEmbedder)(nil)

// NewBatchingEmbedder wraps embedder. maxBatchSize below 1 is treated as 1.
func NewBatchingEmbedder(embedder Embedder, maxBatchSize int) (*BatchingEmbedder, error) {
	if embedder == nil {
		return nil, errors.New("embedder required")
	}
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	return &BatchingEmbedder{
		embedder:     embedder,
		maxBatchSize: maxBatchSize,
		logger:       slog.Default().With("component", "batching-embedder"),
	}, nil
}

// EmbedText embeds a single text.
func (b *BatchingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return b.embedder.EmbedText(ctx, text)
}

// EmbedTexts embeds texts in sub-batches. Any sub-batch that returns the
// wrong number of vectors fails the whole call with ErrEmbeddingMismatch.
func (b *BatchingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.maxBatchSize {
		end := min(start+b.maxBatchSize, len(texts))
		chunk := texts[start:end]

		vectors, err := b.embedder.EmbedTexts(ctx, chunk)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(chunk) {
			b.logger.Error("embedding service returned wrong count",
				"expected", len(chunk), "received", len(vectors), "offset", start)
			return nil, fmt.Errorf("%w: expected %d, received %d", ErrEmbeddingMismatch, len(chunk), len(vectors))
		}
		out = append(out, vectors...)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d, received %d", ErrEmbeddingMismatch, len(texts), len(out))
	}
	return out, nil
}
