// Package vector implements the similarity math used to rank catalog entries.
package vector

import (
	"fmt"
	"math"

	"github.com/poiesic/cellar/core"
)

// CosineSimilarity returns the cosine of the angle between a and b.
//
// Accumulation happens in float64. If either vector has zero magnitude the
// result is exactly 0. Vectors of different lengths return
// core.ErrDimensionMismatch.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", core.ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v.
// A zero vector comes back as a zero vector of the same length.
func Normalize(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	result := make([]float32, len(v))
	magnitude := Norm(v)
	if magnitude == 0 {
		return result
	}
	for i, x := range v {
		result[i] = float32(float64(x) / magnitude)
	}
	return result
}
