package cache

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultMaxCostBytes bounds the in-process cache when no size is configured.
const DefaultMaxCostBytes = 64 << 20

// RistrettoProvider is an in-process Provider backed by ristretto. Values are
// admitted asynchronously; call Wait before reading back in tests.
type RistrettoProvider struct {
	c *ristretto.Cache[string, []byte]
}

// NewRistrettoProvider creates a cache holding up to maxCostBytes of values.
func NewRistrettoProvider(maxCostBytes int64) (*RistrettoProvider, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = DefaultMaxCostBytes
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCostBytes/100*10, 1000),
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoProvider{c: c}, nil
}

// Get returns ErrCacheMiss when key is absent or expired.
func (p *RistrettoProvider) Get(_ context.Context, key string) ([]byte, error) {
	val, found := p.c.Get(key)
	if !found {
		return nil, ErrCacheMiss
	}
	return val, nil
}

// Set stores value with ttl; a non-positive ttl never expires.
func (p *RistrettoProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var ok bool
	if ttl > 0 {
		ok = p.c.SetWithTTL(key, value, int64(len(value)), ttl)
	} else {
		ok = p.c.Set(key, value, int64(len(value)))
	}
	if !ok {
		return errDropped
	}
	return nil
}

var errDropped = errors.New("cache set dropped")

// Del removes key.
func (p *RistrettoProvider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

// Wait blocks until buffered writes are applied.
func (p *RistrettoProvider) Wait() {
	p.c.Wait()
}

// Close releases the cache's background goroutines.
func (p *RistrettoProvider) Close() error {
	p.c.Close()
	return nil
}
