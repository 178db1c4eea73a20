package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// cacheEntry is one memoized Analysis-stage outcome.
type cacheEntry struct {
	relevance    float64
	summary      string
	keyFragments []string
	reasoning    string
}

// analysisCache memoizes Analysis-stage output keyed by (task description
// hash, source id), process-local and not shared across workers (spec.md
// §4.5, §5). Bounded with FIFO eviction of the oldest 10% once full.
type analysisCache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	entries  map[string]cacheEntry
}

func newAnalysisCache(capacity int) *analysisCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &analysisCache{
		capacity: capacity,
		entries:  make(map[string]cacheEntry, capacity),
	}
}

func cacheKey(taskDescription, sourceID string) string {
	sum := sha256.Sum256([]byte(taskDescription))
	return hex.EncodeToString(sum[:]) + ":" + sourceID
}

func (c *analysisCache) get(key string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *analysisCache) put(key string, entry cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = entry

	if len(c.order) <= c.capacity {
		return
	}
	evict := len(c.order) / 10
	if evict < 1 {
		evict = 1
	}
	for _, k := range c.order[:evict] {
		delete(c.entries, k)
	}
	c.order = c.order[evict:]
}
