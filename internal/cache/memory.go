package cache

import (
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/ppiankov/claimledger/internal/model"
)

// MemoryCache implements in-memory caching with expiry
type MemoryCache struct {
	mu         sync.Mutex
	cache      *gocache.Cache
	generation uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a resolved id from the cache
func (c *MemoryCache) Get(key string) (model.ClaimID, bool) {
	if val, found := c.cache.Get(key); found {
		c.hits.Add(1)
		return val.(model.ClaimID), true
	}
	c.misses.Add(1)
	return "", false
}

// Put stores id under key if nothing was invalidated since generation was read
func (c *MemoryCache) Put(generation uint64, key string, id model.ClaimID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return false
	}
	c.cache.SetDefault(key, id)
	return true
}

// Generation returns the current invalidation counter
func (c *MemoryCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Invalidate removes all values and starts a new generation
func (c *MemoryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.cache.Flush()
}

// Stats returns hit and miss counts since creation
func (c *MemoryCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
