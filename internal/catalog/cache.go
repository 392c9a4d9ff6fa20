package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/example/optical-storefront/internal/readmodel"
	"golang.org/x/sync/singleflight"
)

const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	page      *readmodel.ProductsPage
	fetchedAt time.Time
}

// QueryCache is a TTL cache of product pages keyed by CacheKey. Pages go in
// and come out as deep copies.
type QueryCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	// generation is bumped by InvalidateAll so fetches started before an
	// invalidation do not repopulate the cache
	generation uint64

	group singleflight.Group
}

type CacheOption func(*QueryCache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *QueryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxEntries caps the cache, evicting the oldest entry first. Zero
// means unbounded.
func WithMaxEntries(n int) CacheOption {
	return func(c *QueryCache) { c.maxEntries = n }
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *QueryCache) { c.now = now }
}

func NewQueryCache(opts ...CacheOption) *QueryCache {
	c := &QueryCache{
		ttl:     DefaultCacheTTL,
		now:     time.Now,
		entries: map[string]cacheEntry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the page for key unless it is absent or older than the TTL
func (c *QueryCache) Get(key string) (*readmodel.ProductsPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.fetchedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.page.Clone(), true
}

// Put stores page under key, replacing any previous entry
func (c *QueryCache) Put(key string, page *readmodel.ProductsPage) {
	if page == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, page)
}

func (c *QueryCache) putLocked(key string, page *readmodel.ProductsPage) {
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{page: page.Clone(), fetchedAt: c.now()}
}

func (c *QueryCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.fetchedAt.Before(oldest) {
			oldestKey, oldest, first = k, e.fetchedAt, false
		}
	}
	delete(c.entries, oldestKey)
}

// InvalidateAll drops every entry
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]cacheEntry{}
	c.generation++
}

// Len returns the number of stored entries, stale ones included
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fetch returns the cached page for key or calls fn to load it. Concurrent
// calls for the same key share one fn call. fn is not cancelled with ctx;
// ctx only bounds how long this caller waits.
func (c *QueryCache) Fetch(ctx context.Context, key string, fn func(context.Context) (*readmodel.ProductsPage, error)) (*readmodel.ProductsPage, error) {
	if page, ok := c.Get(key); ok {
		return page, nil
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		page, err := fn(detached)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.putLocked(key, page)
		}
		c.mu.Unlock()
		return page, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*readmodel.ProductsPage).Clone(), nil
	}
}
