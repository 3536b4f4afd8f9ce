package storage

import (
	"context"

	"github.com/poiesic/cellar/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close closes the storage backend and releases resources.
	Close() error
}

// SnapshotRepository persists parsed catalogs so they can be reopened
// without fetching and parsing the sources again.
//
// A repository holds at most one current snapshot. Saving a new snapshot
// replaces the current one atomically: readers see either the old snapshot
// or the new one in full.
type SnapshotRepository interface {
	Repository

	// SaveSnapshot stores snap and makes it current.
	// Returns the metadata that was written.
	SaveSnapshot(ctx context.Context, snap *core.Snapshot) (SnapshotMeta, error)

	// LoadSnapshot returns the current snapshot.
	// Returns ErrNotFound if nothing has been saved.
	LoadSnapshot(ctx context.Context) (*core.Snapshot, error)

	// CurrentMeta returns the metadata of the current snapshot.
	// Returns ErrNotFound if nothing has been saved.
	CurrentMeta(ctx context.Context) (SnapshotMeta, error)

	// DeleteSnapshot removes the current snapshot.
	// Returns ErrNotFound if nothing has been saved.
	DeleteSnapshot(ctx context.Context) error
}
