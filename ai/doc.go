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


// Package ai provides the text embedding abstractions used by cellar.
//
// The catalog is searched with vectors from the same model that produced the
// catalog embeddings. This package defines how query text becomes such a
// vector without tying the rest of the code to a particular model server.
//
// # Interfaces
//
//   - Embedder: Generates vector embeddings from text
//   - EmbedderFactory: Builds an Embedder on demand
//
// # Gateway
//
// Gateway is the Embedder the search layer uses. It builds the real embedder
// lazily on the first query, shares that construction between concurrent
// callers, rate limits calls to the model, normalizes every vector to unit
// length and checks its length against the catalog dimension.
//
//	gw, err := ai.NewGatewayFromConfig(openai.Factory(cfg), cfg)
//	vec, err := gw.EmbedText(ctx, "dry red with dark fruit")
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
package ai
