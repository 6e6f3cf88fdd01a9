package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultCacheTTL bounds how stale a cached tenant can get. Pricing and
// activation changes propagate within this window.
const DefaultCacheTTL = 5 * time.Minute

// CachedProvider wraps a Provider with read-through caching. Tenant lookups
// happen on every payment submission and approval, so a short TTL takes most
// of that read load off the database.
type CachedProvider struct {
	source Provider
	cache  Cache
	ttl    time.Duration
}

// NewCachedProvider wraps source with the given cache. A nil cache gets the
// in-memory default; a non-positive TTL gets DefaultCacheTTL.
func NewCachedProvider(source Provider, cache Cache, ttl time.Duration) *CachedProvider {
	if cache == nil {
		cache = NewInMemoryCache()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProvider{source: source, cache: cache, ttl: ttl}
}

func (p *CachedProvider) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	if t, ok := p.cache.Get(ctx, id); ok {
		return t, nil
	}

	t, err := p.source.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	p.cache.Set(ctx, id, t, p.ttl)
	return t, nil
}

// Invalidate drops a tenant from the cache, forcing the next lookup to hit
// the source.
func (p *CachedProvider) Invalidate(ctx context.Context, id uuid.UUID) {
	p.cache.Delete(ctx, id)
}

// Close releases cache resources.
func (p *CachedProvider) Close() error {
	return p.cache.Close()
}
