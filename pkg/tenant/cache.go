package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cache is the interface for tenant caching implementations.
type Cache interface {
	Get(ctx context.Context, id uuid.UUID) (*Tenant, bool)
	Set(ctx context.Context, id uuid.UUID, tenant *Tenant, ttl time.Duration)
	Delete(ctx context.Context, id uuid.UUID)
	Close() error
}

// DefaultCacheSize is the default maximum number of items in the cache.
const DefaultCacheSize = 1000

// inMemoryCache is the default in-memory cache with TTL expiry and a
// size cap. Eviction removes the oldest entry by insertion order, which is
// close enough to LRU for the small working set of active tenants.
type inMemoryCache struct {
	mu      sync.Mutex
	items   map[uuid.UUID]cacheItem
	order   []uuid.UUID
	maxSize int
	stop    chan struct{}
	done    chan struct{}
	closed  bool
}

type cacheItem struct {
	tenant    *Tenant
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache with automatic cleanup.
func NewInMemoryCache() Cache {
	cache := &inMemoryCache{
		items:   make(map[uuid.UUID]cacheItem),
		maxSize: DefaultCacheSize,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go cache.cleanup()
	return cache
}

func (c *inMemoryCache) Get(ctx context.Context, id uuid.UUID) (*Tenant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[id]
	if !exists {
		return nil, false
	}
	if time.Now().After(item.expiresAt) {
		delete(c.items, id)
		c.removeOrder(id)
		return nil, false
	}
	return item.tenant, true
}

func (c *inMemoryCache) Set(ctx context.Context, id uuid.UUID, tenant *Tenant, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[id]; !exists {
		if len(c.items) >= c.maxSize && len(c.order) > 0 {
			evict := c.order[0]
			c.order = c.order[1:]
			delete(c.items, evict)
		}
		c.order = append(c.order, id)
	}

	c.items[id] = cacheItem{tenant: tenant, expiresAt: time.Now().Add(ttl)}
}

func (c *inMemoryCache) Delete(ctx context.Context, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, id)
	c.removeOrder(id)
}

func (c *inMemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *inMemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, id)
			c.removeOrder(id)
		}
	}
}

func (c *inMemoryCache) removeOrder(id uuid.UUID) {
	for i, k := range c.order {
		if k == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *inMemoryCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	<-c.done
	return nil
}
