package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/poiesic/cellar/ai"
	"github.com/poiesic/cellar/vector"
)

// MockEmbedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields.
type MockEmbedder struct {
	// EmbedTextFunc is called by EmbedText if set.
	// If nil, uses default deterministic behavior.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedTextsFunc is called by EmbedTexts if set.
	// If nil, uses default deterministic behavior.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the length of generated vectors. Default 384.
	Dimension int

	mu        sync.Mutex
	callCount int
}

var _ ai.Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder with default deterministic behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{Dimension: ai.DefaultDimension}
}

// NewMockEmbedderWithDimension creates a mock embedder producing dim-length vectors.
func NewMockEmbedderWithDimension(dim int) *MockEmbedder {
	return &MockEmbedder{Dimension: dim}
}

// EmbedText generates a deterministic embedding based on text hash.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.count()

	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}

	return DeterministicVector(text, m.Dimension), nil
}

// EmbedTexts generates deterministic embeddings for multiple texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.count()

	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = DeterministicVector(text, m.Dimension)
	}
	return embeddings, nil
}

// Factory returns an ai.EmbedderFactory that always yields m.
func (m *MockEmbedder) Factory() ai.EmbedderFactory {
	return func(context.Context) (ai.Embedder, error) {
		return m, nil
	}
}

// CallCount returns the number of times any method was called.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears the call count and any injected behavior.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.EmbedTextFunc = nil
	m.EmbedTextsFunc = nil
}

func (m *MockEmbedder) count() {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()
}

// DeterministicVector creates a unit-length vector from text.
// It uses an FNV hash so the same text always produces the same vector.
func DeterministicVector(text string, dim int) []float32 {
	if dim <= 0 {
		dim = ai.DefaultDimension
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	v := make([]float32, dim)
	for i := range v {
		seed = seed*1664525 + 1013904223 // LCG constants
		v[i] = float32(seed%1000)/1000.0 - 0.5
	}
	return vector.Normalize(v)
}
