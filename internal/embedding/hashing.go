package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashingDimension is the vector length used when none is configured.
const DefaultHashingDimension = 256

// HashingEncoder is an offline bag-of-words encoder using signed feature
// hashing. Texts sharing words land close together under cosine similarity.
type HashingEncoder struct {
	Dimension int
}

// NewHashingEncoder returns an encoder producing vectors of length dim.
func NewHashingEncoder(dim int) *HashingEncoder {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	return &HashingEncoder{Dimension: dim}
}

// Encode implements Encoder.
func (e *HashingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	dim := e.Dimension
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text, dim)
	}
	return out, nil
}

func (e *HashingEncoder) vector(text string, dim int) []float32 {
	v := make([]float32, dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(dim))
		if sum&(1<<63) != 0 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	Normalize(v)
	return v
}
