package cache

import (
	"sync"
	"time"

	"github.com/voriongit/vorion/core/pkg/contracts"
)

// Entry is one cached decision with its bookkeeping.
type Entry struct {
	Decision       *contracts.Decision `json:"decision"`
	ExpiresAt      time.Time           `json:"expires_at"`
	ExpiresAtUnix  int64               `json:"expires_at_unix_ms"`
	LastAccessedAt time.Time           `json:"last_accessed_at"`
	AccessCount    int64               `json:"access_count"`
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// localCache is the in-process tier: a capacity-bounded map evicting the
// least-recently-accessed entry when full. Synchronous, never blocks.
type localCache struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	capacity int
}

func newLocalCache(capacity int) *localCache {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &localCache{
		entries:  make(map[string]*Entry),
		capacity: capacity,
	}
}

// get returns the entry if present and fresh, updating access bookkeeping.
// Expired entries are deleted on sight.
func (c *localCache) get(fingerprint string, now time.Time) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(c.entries, fingerprint)
		return nil
	}
	e.LastAccessedAt = now
	e.AccessCount++
	return e
}

// set stores an entry, evicting the entry with the smallest last access
// time when at capacity. A newer entry for the same fingerprint is never
// overwritten by an older one.
func (c *localCache) set(fingerprint string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[fingerprint]; ok {
		if existing.ExpiresAt.After(entry.ExpiresAt) {
			return
		}
		c.entries[fingerprint] = entry
		return
	}

	if len(c.entries) >= c.capacity {
		var lruKey string
		var lruAt time.Time
		first := true
		for k, e := range c.entries {
			if first || e.LastAccessedAt.Before(lruAt) {
				lruKey, lruAt = k, e.LastAccessedAt
				first = false
			}
		}
		delete(c.entries, lruKey)
	}
	c.entries[fingerprint] = entry
}

func (c *localCache) delete(fingerprint string) {
	c.mu.Lock()
	delete(c.entries, fingerprint)
	c.mu.Unlock()
}

// deleteWhere removes entries matching the predicate, returning the count.
func (c *localCache) deleteWhere(match func(*Entry) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if match(e) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// sweep removes expired entries and returns per-tenant live counts.
func (c *localCache) sweep(now time.Time) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	sizes := make(map[string]int)
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			continue
		}
		if e.Decision != nil {
			sizes[e.Decision.TenantID]++
		}
	}
	return sizes
}

func (c *localCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
