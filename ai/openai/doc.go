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

// Package openai is the default embedding provider. It talks to any server
// implementing the OpenAI embeddings API (Ollama, vLLM, LocalAI, OpenAI
// itself) through langchaingo.
//
// The provider is selected with ai.ProviderOpenAI, which is also what
// ai.DefaultConfig uses:
//
//	cfg := ai.NewConfig(
//	    ai.WithEmbeddingHost("http://localhost:11434/v1"),
//	    ai.WithEmbeddingModel("embeddinggemma"),
//	    ai.WithMaxBatchSize(32),
//	)
//	provider, err := openai.NewProvider(cfg)
//
// Vectors are returned as the server produces them. Normalization happens
// when they are written to the vector store.
package openai
