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

// Package ai provides the embedding abstraction used by chatvec.
//
// The sync pipeline depends only on the Embedder interface. Concrete
// services live in sub-packages and are selected by Config.Provider:
//
//   - ai/openai: OpenAI-compatible endpoints through langchaingo
//   - ai/siliconflow: the SiliconFlow API through the OpenAI SDK
//   - ai/mock: deterministic test doubles
//
// # Batching
//
// Embedding services cap the number of inputs per request. BatchingEmbedder
// splits a request into sub-batches of at most Config.MaxBatchSize texts and
// returns vectors in input order. A service that answers with the wrong
// number of vectors fails the call with ErrEmbeddingMismatch; callers must
// never pair vectors with texts positionally after a mismatch.
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, siliconflow.NewProvider) return
// INTERFACE types to enforce abstraction. Test constructors in ai/mock return
// concrete types so tests can inject behavior and inspect call counts.
package ai
