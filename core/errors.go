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


package core

import "errors"

// Catalog and query errors.
var (
	// ErrLoad indicates a catalog source could not be fetched or parsed.
	// Fatal to startup.
	ErrLoad = errors.New("catalog load failed")

	// ErrDimensionMismatch indicates two sequences that must line up do not:
	// record and vector counts, or vector lengths.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrEmptyCatalog indicates the catalog has no embeddings.
	ErrEmptyCatalog = errors.New("catalog has no embeddings")

	// ErrEmbeddingUnavailable indicates the embedding gateway could not
	// produce a vector. Per-query; the caller may retry.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrNoSelection indicates a favorites query was made with no favorites.
	ErrNoSelection = errors.New("no favorites selected")

	// ErrNoAverage indicates no average vector could be built from the selection.
	ErrNoAverage = errors.New("cannot build embedding for selection")

	// ErrEmptyQuery indicates a blank description query.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrInvalidFilter indicates a FilterSpec failed validation.
	ErrInvalidFilter = errors.New("invalid filter")
)
