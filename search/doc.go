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


// Package search finds catalog entries by semantic similarity.
//
// Ranker is the engine: an exact scan of the catalog that applies hard
// filters and orders the survivors by cosine similarity to a query vector.
//
// Searcher builds queries for the three ways people look for a wine:
//   - ByDescription: free text, embedded through an ai.Embedder
//   - ByDescriptionWithFilters: free text plus country, variety and price
//   - ByFavorites: the average vector of wines the user already likes,
//     excluding those wines from the result
//
// Each query pins the catalog that is current when it starts, so a
// concurrent reload never mixes two catalogs in one result.
package search
