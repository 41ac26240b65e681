package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the minimal cache operations needed by the service.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX pretends to store the value and reports success.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }

// AcquireLease claims key for ttl across every replica sharing the provider. It reports
// false when another holder owns the lease. Providers that cannot answer fail open.
func AcquireLease(ctx context.Context, p Provider, key string, ttl time.Duration) bool {
	if p == nil || ttl <= 0 {
		return true
	}
	ok, err := p.SetNX(ctx, "lease:"+key, []byte("1"), ttl)
	if err != nil {
		return true
	}
	return ok
}

// ReleaseLease drops a lease so the next AcquireLease for key succeeds.
func ReleaseLease(ctx context.Context, p Provider, key string) error {
	if p == nil {
		return nil
	}
	return p.Del(ctx, "lease:"+key)
}
