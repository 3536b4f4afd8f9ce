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


// Package storage provides the persistence abstraction layer for cellar.
//
// Building a catalog means fetching a CSV and an embeddings file and parsing
// both. A SnapshotRepository keeps the parsed result so later runs can open
// the catalog directly.
//
// # Constructor Return Type Pattern
//
// Public constructors return INTERFACE types to keep consumers independent
// of the backend:
//
//	repo, err := badger.NewSnapshotRepository(path)  // returns storage.SnapshotRepository
//
// # Usage
//
//	repo, err := badger.NewSnapshotRepository("/path/to/db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repo.Close()
//
//	meta, err := repo.SaveSnapshot(ctx, cat.Snapshot())
//	snap, err := repo.LoadSnapshot(ctx)
//
// Use in tests with in-memory storage:
//
//	repo, err := badger.NewMemoryRepository()
//
// # Serialization
//
// Records, vectors and snapshot metadata are encoded with mus-go. Vectors
// use fixed-width floats; everything else is varint or length-prefixed.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
