package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNoopProviderAlwaysMisses(t *testing.T) {
	var p Provider = NoopProvider{}
	if err := p.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := p.Get(context.Background(), "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestRistrettoProviderRoundTrip(t *testing.T) {
	p, err := NewRistrettoProvider(1 << 20)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	defer p.Close()
	ctx := context.Background()

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := p.Set(ctx, "vec", []byte{1, 2, 3}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	p.Wait()
	got, err := p.Get(ctx, "vec")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("unexpected value %v", got)
	}

	if err := p.Del(ctx, "vec"); err != nil {
		t.Fatalf("del: %v", err)
	}
	p.Wait()
	if _, err := p.Get(ctx, "vec"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}
