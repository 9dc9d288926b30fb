package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/chatvec/ai"
	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/ingestion"
	"github.com/poiesic/chatvec/vectorstore"
)

// BatchWriter stores re-embedded units.
type BatchWriter interface {
	AddAll(ctx context.Context, vectors [][]float32, units []core.EmbeddingUnit) ([]string, error)
}

type BatchProcessor struct {
	writer         BatchWriter
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

func NewBatchProcessor(writer BatchWriter, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &BatchProcessor{
		writer:         writer,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds units and overwrites their stored copies.
func (bp *BatchProcessor) Process(ctx context.Context, units []core.EmbeddingUnit) error {
	if len(units) == 0 {
		return nil
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Text
	}

	var embeddings [][]float32
	err := ingestion.RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(units) {
		return fmt.Errorf("%w: expected %d, got %d", ai.ErrEmbeddingMismatch, len(units), len(embeddings))
	}

	for i := range embeddings {
		embeddings[i] = vectorstore.Normalize(embeddings[i])
	}

	if _, err := bp.writer.AddAll(ctx, embeddings, units); err != nil {
		return fmt.Errorf("failed to update documents: %w", err)
	}
	return nil
}
