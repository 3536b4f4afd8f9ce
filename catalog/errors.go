package catalog

import "errors"

var (
	// ErrStoreEmpty is returned when a Store has no catalog yet.
	ErrStoreEmpty = errors.New("no catalog loaded")

	// ErrSourceRequired is returned when a Source is missing a location.
	ErrSourceRequired = errors.New("csv and embeddings locations required")

	// ErrStoreRequired is returned when a Watcher is created without a Store.
	ErrStoreRequired = errors.New("catalog store required")
)
