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


// Package openai provides AI service implementations using OpenAI-compatible APIs.
//
// This package implements ai.Embedder using the langchaingo
// library to talk to OpenAI or an OpenAI-compatible server (Ollama, LocalAI,
// vLLM, text-embeddings-inference) hosting the catalog's embedding model.
//
// # Usage
//
//	config := ai.NewConfig(
//	    ai.WithEmbeddingHost("http://localhost:8080"), // /v1 added automatically
//	)
//
//	// Eager construction
//	emb, err := openai.NewEmbedder(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vec, err := emb.EmbedText(ctx, "sample text")
//
//	// Lazy construction behind a gateway
//	gw, err := ai.NewGatewayFromConfig(openai.Factory(config), config)
package openai
