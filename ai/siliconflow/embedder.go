// Package siliconflow provides an embedding service backed by the
// SiliconFlow embeddings API, reached through the official OpenAI SDK.
package siliconflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/poiesic/chatvec/ai"
)

// Embedder implements ai.Embedder on the SiliconFlow /embeddings endpoint.
type Embedder struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client := openai.NewClient(
		option.WithBaseURL(config.EmbeddingHost),
		option.WithAPIKey(config.APIKey),
		option.WithRequestTimeout(config.RequestTimeout),
		// retries are owned by the sync pipeline
		option.WithMaxRetries(0),
	)
	return &Embedder{
		client: &client,
		model:  config.EmbeddingModel,
		logger: slog.Default().With("component", "siliconflow-embedder"),
	}, nil
}

// NewEmbedder creates an embedder from config.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText embeds one text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts in one request. Results are placed by the index
// the service reports, not by response order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d, received %d", ai.ErrEmbeddingMismatch, len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for pos, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) || out[idx] != nil {
			idx = pos
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("%w: no vector for index %d", ai.ErrEmbeddingMismatch, i)
		}
	}
	return out, nil
}
