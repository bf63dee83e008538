package embeddings

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is an in-memory LRU with TTL over (model, text) -> vector.
//
// The LRU core bumps recency on Get, so with a full cache and no reads the
// oldest insertions are evicted first. All operations are safe for
// concurrent use.
type Cache struct {
	lru     *expirable.LRU[string, []float32]
	maxSize int

	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats is a snapshot of cache effectiveness counters.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	HitRate float64 `json:"hit_rate"`
}

// NewCache creates a cache bounded to maxSize entries, each expiring after ttl.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		lru:     expirable.NewLRU[string, []float32](maxSize, nil, ttl),
		maxSize: maxSize,
	}
}

// CacheKey derives the cache key for a (model, text) pair.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + ":" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for (model, text), recording a hit or miss.
func (c *Cache) Get(model, text string) ([]float32, bool) {
	vector, ok := c.lru.Get(CacheKey(model, text))
	if ok {
		c.hits.Add(1)
		return vector, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set stores a vector, evicting the least recently used entry when full.
func (c *Cache) Set(model, text string, vector []float32) {
	c.lru.Add(CacheKey(model, text), vector)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	return CacheStats{
		Hits:    hits,
		Misses:  misses,
		Size:    c.lru.Len(),
		MaxSize: c.maxSize,
		HitRate: rate,
	}
}
