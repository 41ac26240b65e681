package cache

import (
	"context"
	"sync"
	"time"

	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// MemoryProvider is an in-process Provider with TTL expiry driven by a Clock.
type MemoryProvider struct {
	mu    sync.Mutex
	data  map[string]item
	clock utils.Clock
}

type item struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory cache.
func NewMemoryProvider(clock utils.Clock) *MemoryProvider {
	return &MemoryProvider{data: make(map[string]item), clock: utils.ClockOrSystem(clock)}
}

// Get retrieves a cached item if present and not expired.
func (c *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.live(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a value with optional TTL.
func (c *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = c.newItem(value, ttl)
	return nil
}

// SetNX stores value only when key is absent or expired.
func (c *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.data[key] = c.newItem(value, ttl)
	return true, nil
}

// Del removes an entry.
func (c *MemoryProvider) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Close drops every entry.
func (c *MemoryProvider) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]item)
	return nil
}

func (c *MemoryProvider) live(key string) (item, bool) {
	it, ok := c.data[key]
	if !ok {
		return item{}, false
	}
	if !it.expiresAt.IsZero() && !c.clock.Now().Before(it.expiresAt) {
		delete(c.data, key)
		return item{}, false
	}
	return it, true
}

func (c *MemoryProvider) newItem(value []byte, ttl time.Duration) item {
	var expires time.Time
	if ttl > 0 {
		expires = c.clock.Now().Add(ttl)
	}
	return item{value: append([]byte(nil), value...), expiresAt: expires}
}
