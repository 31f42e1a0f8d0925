package identity

import (
	"context"
	"time"

	"github.com/bibliome/atproto-oauth/syntax"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheResolver wraps a Resolver with an expiring LRU of handle lookups.
// Errors are cached with a shorter TTL so transient failures don't pin a
// negative result for the full window.
type CacheResolver struct {
	Inner  *Resolver
	ErrTTL time.Duration

	cache *expirable.LRU[syntax.Handle, cacheEntry]
}

type cacheEntry struct {
	Updated  time.Time
	Identity *Identity
	Err      error
}

// Capacity of zero means unlimited size; hitTTL of zero means entries never
// expire.
func NewCacheResolver(inner *Resolver, capacity int, hitTTL, errTTL time.Duration) *CacheResolver {
	return &CacheResolver{
		Inner:  inner,
		ErrTTL: errTTL,
		cache:  expirable.NewLRU[syntax.Handle, cacheEntry](capacity, nil, hitTTL),
	}
}

func (c *CacheResolver) LookupHandle(ctx context.Context, handle syntax.Handle) (*Identity, error) {
	handle = handle.Normalize()
	if entry, ok := c.cache.Get(handle); ok {
		if entry.Err == nil || time.Since(entry.Updated) <= c.ErrTTL {
			return entry.Identity, entry.Err
		}
		c.cache.Remove(handle)
	}
	ident, err := c.Inner.LookupHandle(ctx, handle)
	c.cache.Add(handle, cacheEntry{Updated: time.Now(), Identity: ident, Err: err})
	return ident, err
}

// Purge drops any cached lookup for the handle.
func (c *CacheResolver) Purge(handle syntax.Handle) {
	c.cache.Remove(handle.Normalize())
}
