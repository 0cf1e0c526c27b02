package extractor

import (
	"sort"
	"sync"
	"time"
)

// InfoCache memoizes probe results per URL. Entries expire after a TTL and
// the map is bounded: when an insert would exceed the ceiling, the oldest
// fifth of the entries is dropped in one sweep so inserts stay cheap under
// sustained load.
type InfoCache struct {
	ttl time.Duration
	max int

	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	info     *MediaInfo
	storedAt time.Time
}

// NewInfoCache builds a cache with the given TTL and entry ceiling.
// Non-positive arguments fall back to 5 minutes and 100 entries.
func NewInfoCache(ttl time.Duration, maxEntries int) *InfoCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &InfoCache{
		ttl:     ttl,
		max:     maxEntries,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached metadata for url if present and fresh.
func (c *InfoCache) Get(url string) (*MediaInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[url]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, url)
		return nil, false
	}
	return entry.info, true
}

// Put stores metadata for url, evicting the oldest entries first when the
// ceiling is reached.
func (c *InfoCache) Put(url string, info *MediaInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[url]; !exists && len(c.entries) >= c.max {
		c.evictOldestLocked()
	}
	c.entries[url] = cacheEntry{info: info, storedAt: c.now()}
}

// Len reports the number of entries currently held, expired or not.
func (c *InfoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *InfoCache) evictOldestLocked() {
	type aged struct {
		url      string
		storedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for url, entry := range c.entries {
		all = append(all, aged{url: url, storedAt: entry.storedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].storedAt.Before(all[j].storedAt)
	})

	drop := c.max / 5
	if drop < 1 {
		drop = 1
	}
	if drop > len(all) {
		drop = len(all)
	}
	for _, candidate := range all[:drop] {
		delete(c.entries, candidate.url)
	}
}
