package reembed

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when a Backoff allows no attempts.
	ErrInvalidMaxAttempts = errors.New("retry attempts must be greater than 0")

	// ErrEmbeddingCount is returned when the embedder returns a different
	// number of vectors than texts it was given.
	ErrEmbeddingCount = errors.New("embedding count mismatch")

	// ErrNoRecords is returned when the CSV holds no records to embed.
	ErrNoRecords = errors.New("no records to embed")

	// ErrEmbedderRequired is returned when no embedder is supplied.
	ErrEmbedderRequired = errors.New("embedder is required")
)
