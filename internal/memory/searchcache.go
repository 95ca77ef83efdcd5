package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SearchCache memoizes Recall results by fingerprint. Entries expire after
// a TTL and are lazily removed on lookup; when the cache exceeds its
// configured capacity the least-recently-inserted entry is evicted.
type SearchCache struct {
	mu         sync.Mutex
	entries    map[string]SearchCacheEntry
	order      []string // insertion order, oldest first
	ttl        time.Duration
	maxEntries int
}

// NewSearchCache constructs an empty cache with the given TTL and entry cap.
func NewSearchCache(ttl time.Duration, maxEntries int) *SearchCache {
	return &SearchCache{
		entries:    make(map[string]SearchCacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Fingerprint builds the cache key for one Recall.search call.
func Fingerprint(query string, limit int, userID string, scope Scope, deep bool, sessionID string) string {
	if sessionID == "" {
		sessionID = "-"
	}
	return fmt.Sprintf("%s|%d|%s|%s|%t|%s",
		normalizeQuery(query), limit, userID, scope, deep, sessionID)
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// Get returns a copy of the cached results for key, or (nil, false) on a
// miss or expiry. An expired entry is removed as a side effect.
func (c *SearchCache) Get(key string) ([]Memory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}
	out := make([]Memory, len(entry.Results))
	copy(out, entry.Results)
	return out, true
}

// Set stores results under key, evicting the oldest entry if the cache is
// at capacity. A non-empty results slice is required by the caller
// (Recall never caches an empty merge).
func (c *SearchCache) Set(key string, results []Memory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
			c.evictOldest()
		}
		c.order = append(c.order, key)
	}
	stored := make([]Memory, len(results))
	copy(stored, results)
	c.entries[key] = SearchCacheEntry{Key: key, Results: stored, ExpiresAt: time.Now().Add(c.ttl)}
}

// InvalidateAll clears every entry. Called synchronously on any HotStore
// mutation so a subsequent Recall always observes the mutation.
func (c *SearchCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]SearchCacheEntry)
	c.order = nil
}

func (c *SearchCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *SearchCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
