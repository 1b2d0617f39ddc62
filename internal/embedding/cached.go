package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Jita81/SelfImprovingRAG/internal/cache"
)

// CachedEncoder memoises vectors of an inner Encoder in a cache.Provider and
// collapses concurrent identical requests.
type CachedEncoder struct {
	inner     Encoder
	cache     cache.Provider
	ttl       time.Duration
	namespace string
	group     singleflight.Group
	logger    *slog.Logger
}

// NewCachedEncoder wraps inner. namespace separates vectors of different models.
func NewCachedEncoder(inner Encoder, provider cache.Provider, namespace string, ttl time.Duration, logger *slog.Logger) *CachedEncoder {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEncoder{inner: inner, cache: provider, ttl: ttl, namespace: namespace, logger: logger}
}

func (c *CachedEncoder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

// Encode implements Encoder.
func (c *CachedEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make(map[string][]int)
	var missTexts, missKeys []string

	for i, text := range texts {
		key := c.key(text)
		if data, err := c.cache.Get(ctx, key); err == nil {
			if vec, ok := decodeVector(data); ok {
				out[i] = vec
				continue
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Debug("embedding cache read failed", slog.Any("error", err))
		}
		if _, seen := missIdx[key]; !seen {
			missTexts = append(missTexts, text)
			missKeys = append(missKeys, key)
		}
		missIdx[key] = append(missIdx[key], i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	v, err, _ := c.group.Do(strings.Join(missKeys, ","), func() (any, error) {
		vecs, err := c.inner.Encode(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if err := CheckShape(missTexts, vecs); err != nil {
			return nil, err
		}
		for i, key := range missKeys {
			if err := c.cache.Set(ctx, key, encodeVector(vecs[i]), c.ttl); err != nil {
				c.logger.Debug("embedding cache write failed", slog.Any("error", err))
			}
		}
		return vecs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("encode %d uncached texts: %w", len(missTexts), err)
	}
	vecs := v.([][]float32)
	for i, key := range missKeys {
		for _, idx := range missIdx[key] {
			out[idx] = vecs[i]
		}
	}
	return out, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, true
}
