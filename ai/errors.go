package ai

import "errors"

var (
	// ErrFactoryRequired is returned when a Gateway is created without a factory.
	ErrFactoryRequired = errors.New("embedder factory required")

	// ErrNilEmbedder is returned when a factory reports success but returns no embedder.
	ErrNilEmbedder = errors.New("factory returned nil embedder")

	// ErrEmptyEmbedding is returned when a model produces a zero-length vector.
	ErrEmptyEmbedding = errors.New("model returned empty embedding")
)
