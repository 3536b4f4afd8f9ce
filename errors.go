package cellar

import "errors"

var (
	// ErrNoCatalog is returned when neither sources nor a stored snapshot
	// can provide a catalog.
	ErrNoCatalog = errors.New("no catalog available")

	// ErrNoSnapshotStore is returned by Save when no snapshot database is configured.
	ErrNoSnapshotStore = errors.New("no snapshot database configured")
)
