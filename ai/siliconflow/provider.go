package siliconflow

import (
	"github.com/poiesic/chatvec/ai"
)

// Provider implements ai.AIProvider for SiliconFlow.
type Provider struct {
	embedder *ai.BatchingEmbedder
}

// NewProvider validates config and builds a sub-batching embedder.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}
	batching, err := ai.NewBatchingEmbedder(embedder, config.MaxBatchSize)
	if err != nil {
		return nil, err
	}
	return &Provider{embedder: batching}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (p *Provider) Close() error {
	return nil
}
