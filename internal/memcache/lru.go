package memcache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gyattvc/gyatt/internal/core"
)

// ObjectCache is a bounded LRU cache of decoded objects keyed by hash,
// so repeated reads of hot objects (a branch tip's tree, recently
// staged blobs) skip the store's decompress path.
type ObjectCache struct {
	cache  *lru.Cache[core.Hash, *core.Object]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewObjectCache creates an ObjectCache bounded to at most maxEntries
// objects.
func NewObjectCache(maxEntries int) (*ObjectCache, error) {
	c, err := lru.New[core.Hash, *core.Object](maxEntries)
	if err != nil {
		return nil, err
	}
	return &ObjectCache{cache: c}, nil
}

// Put inserts or updates an object in the cache.
func (c *ObjectCache) Put(obj *core.Object) {
	c.cache.Add(obj.Hash, obj)
}

// Get looks up an object by hash, recording a hit or miss for HitRate.
func (c *ObjectCache) Get(hash core.Hash) (*core.Object, bool) {
	obj, ok := c.cache.Get(hash)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return obj, ok
}

// Clear empties the cache without affecting hit/miss counters.
func (c *ObjectCache) Clear() {
	c.cache.Purge()
}

// Len returns the number of objects currently cached.
func (c *ObjectCache) Len() int {
	return c.cache.Len()
}

// HitRate returns the fraction of Get calls that were cache hits since
// creation, or 0 if Get has never been called.
func (c *ObjectCache) HitRate() float64 {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
