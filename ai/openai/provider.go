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

package openai

import (
	"log/slog"

	"github.com/poiesic/chatvec/ai"
)

// Provider serves the "openai" embedding provider: any endpoint that speaks
// the OpenAI embeddings API, local or hosted.
type Provider struct {
	embedder *ai.BatchingEmbedder
	host     string
	logger   *slog.Logger
}

var _ ai.AIProvider = (*Provider)(nil)

// NewProvider validates config and returns a provider whose embedder sends
// at most config.MaxBatchSize texts per request.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	inner, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}

	batching, err := ai.NewBatchingEmbedder(inner, config.MaxBatchSize)
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("component", "openai-provider")
	logger.Debug("embedding provider ready", "host", config.EmbeddingHost, "model", config.EmbeddingModel, "batch", config.MaxBatchSize)

	return &Provider{
		embedder: batching,
		host:     config.EmbeddingHost,
		logger:   logger,
	}, nil
}

func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Close is a no-op; the HTTP client holds no connections worth draining.
func (p *Provider) Close() error {
	p.logger.Debug("closing provider", "host", p.host)
	return nil
}
