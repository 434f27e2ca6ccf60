package pipeline

import (
	"sync"

	"devengine/internal/module"
)

// CacheEntry is one retained intermediate result, keyed by node fingerprint
// (§3 "Pipeline cache entry").
type CacheEntry struct {
	Fingerprint uint64
	Buffer      *module.PixelBuffer
	ROI         module.ROI
	Hits        int
	Obsolete    bool
}

// Cache is the content-addressed, per-pipeline intermediate-result store
// (§4.4). It bounds the number of retained entries, evicting the
// least-recently-hit entry first once the bound is exceeded — an addition
// beyond the distilled spec's "bounding the number of retained
// intermediates" language, needed to make the bound concrete.
type Cache struct {
	mu       sync.Mutex
	maxEntries int
	entries  map[uint64]*CacheEntry
	order    []uint64 // recency order, most-recently-hit last
}

// NewCache returns an empty cache bounded to maxEntries retained buffers.
func NewCache(maxEntries int) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{maxEntries: maxEntries, entries: make(map[uint64]*CacheEntry)}
}

// Get probes the cache by fingerprint; on hit it bumps the hit counter and
// recency order.
func (c *Cache) Get(fp uint64) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	if !ok || e.Obsolete {
		return nil, false
	}
	e.Hits++
	c.touch(fp)
	return e, true
}

// Put inserts a produced buffer under its node fingerprint, evicting the
// least-recently-hit entry if the cache is at capacity.
func (c *Cache) Put(fp uint64, buf *module.PixelBuffer, roi module.ROI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[fp]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[fp] = &CacheEntry{Fingerprint: fp, Buffer: buf, ROI: roi}
	c.touch(fp)
}

func (c *Cache) touch(fp uint64) {
	for i, k := range c.order {
		if k == fp {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, fp)
}

func (c *Cache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

// Flush empties the cache entirely, used on SYNCH/REMOVE and whenever
// cache_obsolete dominates (§4.4, §9 open-question resolution).
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*CacheEntry)
	c.order = nil
}

// InvalidateTail drops the cache entry for a single fingerprint, used on
// TOP_CHANGED to invalidate only the tail node's cached output.
func (c *Cache) InvalidateTail(fp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fp)
	for i, k := range c.order {
		if k == fp {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// InvalidateStaleROI drops every entry whose retained ROI differs from
// current, used on ZOOMED.
func (c *Cache) InvalidateStaleROI(current module.ROI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, e := range c.entries {
		if !e.ROI.Equal(current) {
			delete(c.entries, fp)
		}
	}
	kept := c.order[:0]
	for _, k := range c.order {
		if _, ok := c.entries[k]; ok {
			kept = append(kept, k)
		}
	}
	c.order = kept
}

// MarkObsolete sets the external cache_obsolete bit, forcing a full flush
// on the next run regardless of which change-flag bits are also raised.
func (c *Cache) MarkObsolete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.Obsolete = true
	}
}

// Len reports the number of retained entries, for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
