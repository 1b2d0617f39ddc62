// Package embedding turns issue strings into fixed-length vectors for semantic
// pattern detection.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Encoder maps texts to vectors of equal length, preserving input order.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// EncoderFunc adapts a function into an Encoder.
type EncoderFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Encode implements Encoder.
func (f EncoderFunc) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// CheckShape verifies that an encoder honoured the length and dimension contract.
func CheckShape(texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("encoder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("encoder returned empty vector at index %d", i)
		}
		if len(v) != len(vectors[0]) {
			return fmt.Errorf("encoder returned vector of length %d at index %d, want %d", len(v), i, len(vectors[0]))
		}
	}
	return nil
}

// Normalize scales v to unit length in place. Zero vectors are left unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
