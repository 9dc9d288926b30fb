package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/chatvec/ai"
	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/vectorstore"
)

// batchProcessor embeds a batch of units and writes it to the vector store.
type batchProcessor struct {
	embedder  ai.Embedder
	store     vectorstore.Store
	attempts  int
	baseDelay time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

func newBatchProcessor(embedder ai.Embedder, store vectorstore.Store, attempts int, baseDelay, timeout time.Duration, logger *slog.Logger) (*batchProcessor, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if store == nil {
		return nil, ErrVectorStoreRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &batchProcessor{
		embedder:  embedder,
		store:     store,
		attempts:  attempts,
		baseDelay: baseDelay,
		timeout:   timeout,
		logger:    logger.With("processor", "batch"),
	}, nil
}

// process writes units under retry. A nil return means every unit is
// durably stored.
func (bp *batchProcessor) process(ctx context.Context, units []core.EmbeddingUnit) error {
	return RetryWithBackoff(ctx, func() error {
		return bp.attempt(ctx, units)
	}, bp.attempts, bp.baseDelay)
}

func (bp *batchProcessor) attempt(ctx context.Context, units []core.EmbeddingUnit) error {
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Text
	}

	embedCtx, cancel := context.WithTimeout(ctx, bp.timeout)
	vectors, err := bp.embedder.EmbedTexts(embedCtx, texts)
	cancel()
	if err != nil {
		bp.logger.Debug("error generating embeddings", "units", len(units), "err", err)
		return err
	}
	if len(vectors) != len(units) {
		return fmt.Errorf("%w: expected %d, received %d", ai.ErrEmbeddingMismatch, len(units), len(vectors))
	}

	for i := range vectors {
		vectors[i] = vectorstore.Normalize(vectors[i])
	}

	storeCtx, cancel := context.WithTimeout(ctx, bp.timeout)
	defer cancel()
	if _, err := bp.store.AddAll(storeCtx, vectors, units); err != nil {
		bp.logger.Debug("error storing embeddings", "units", len(units), "err", err)
		return err
	}
	return nil
}

// partition splits units into consecutive batches of at most size.
func partition(units []core.EmbeddingUnit, size int) [][]core.EmbeddingUnit {
	var batches [][]core.EmbeddingUnit
	for start := 0; start < len(units); start += size {
		end := min(start+size, len(units))
		batches = append(batches, units[start:end])
	}
	return batches
}
