package tenancy

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ChangeNotifier is implemented by stores that can report tenant writes
type ChangeNotifier interface {
	Subscribe(fn func(tenantID uuid.UUID))
}

// CachedStore caches successful lookups of an underlying Store.
// Misses and errors are never cached, so a newly activated tenant resolves immediately.
// Entries are dropped when the tenant changes; the TTL only bounds staleness
// when no change notification arrives.
type CachedStore struct {
	next  Store
	cache *lru.LRU[string, *Tenant]
}

// NewCachedStore wraps next with an LRU of at most size entries that expire after ttl.
// If next implements ChangeNotifier the cache subscribes to it.
func NewCachedStore(next Store, size int, ttl time.Duration) *CachedStore {
	if size < 1 {
		size = 1
	}
	c := &CachedStore{
		next:  next,
		cache: lru.NewLRU[string, *Tenant](size, nil, ttl),
	}
	if n, ok := next.(ChangeNotifier); ok {
		n.Subscribe(c.InvalidateTenant)
	}
	return c
}

func (c *CachedStore) GetActiveBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return c.get(ctx, "slug:"+slug, func() (*Tenant, error) {
		return c.next.GetActiveBySlug(ctx, slug)
	})
}

func (c *CachedStore) GetActiveByDomain(ctx context.Context, domain string) (*Tenant, error) {
	return c.get(ctx, "domain:"+domain, func() (*Tenant, error) {
		return c.next.GetActiveByDomain(ctx, domain)
	})
}

// InvalidateTenant drops every entry holding the given tenant
func (c *CachedStore) InvalidateTenant(id uuid.UUID) {
	for _, key := range c.cache.Keys() {
		if t, ok := c.cache.Peek(key); ok && t.ID == id {
			c.cache.Remove(key)
		}
	}
}

// Purge drops every cached tenant
func (c *CachedStore) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached entries
func (c *CachedStore) Len() int {
	return c.cache.Len()
}

func (c *CachedStore) get(ctx context.Context, key string, load func() (*Tenant, error)) (*Tenant, error) {
	if t, ok := c.cache.Get(key); ok {
		cp := *t
		return &cp, nil
	}

	t, err := load()
	if err != nil {
		return nil, err
	}
	if t.IsActive() {
		cp := *t
		c.cache.Add(key, &cp)
	}
	return t, nil
}
