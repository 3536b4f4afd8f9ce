// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder for
// use in unit tests. The mocks allow tests to run without
// an embedding server and give controlled, deterministic vectors.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockEmbedder := mock.NewMockEmbedder()
//	embedding, err := mockEmbedder.EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	mockEmbedder = mock.NewMockEmbedderWithDimension(2)
//	mockEmbedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return []float32{1, 0}, nil
//	}
//
//	// Lazy construction through a gateway
//	gw, err := ai.NewGateway(mockEmbedder.Factory())
//
//	// Check call counts
//	count := mockEmbedder.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
package mock
