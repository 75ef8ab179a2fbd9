package updates

import (
	"sync"
	"time"
)

// Cache is a TTL cache with a sliding half-TTL refresh and a secondary
// index of live keys, so bulk summary retrieval is O(active keys) instead
// of O(everything ever cached). A read slides the expiry forward by TTL/2
// but never past the absolute deadline set when the entry was stored.
type Cache[V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]*cacheEntry[V]
	// index maps live keys to the generation of the entry that registered
	// them. Eviction removes the key only when the generation still
	// matches, so evicting a replaced entry cannot prune its successor.
	index map[string]uint64
	gen   uint64
}

type cacheEntry[V any] struct {
	value    V
	gen      uint64
	slideExp time.Time
	absExp   time.Time
}

func NewCache[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:   ttl,
		items: make(map[string]*cacheEntry[V]),
		index: make(map[string]uint64),
	}
}

// Set stores value under key, replacing any previous entry. Replacement
// must not trigger index removal; only expiry or explicit removal does.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.gen++
	c.items[key] = &cacheEntry[V]{
		value:    value,
		gen:      c.gen,
		slideExp: now.Add(c.ttl / 2),
		absExp:   now.Add(c.ttl),
	}
	c.index[key] = c.gen
}

// Get returns the cached value and slides its expiry window.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.items[key]
	if !ok {
		return zero, false
	}
	now := time.Now()
	if now.After(entry.slideExp) || now.After(entry.absExp) {
		c.evictLocked(key, entry.gen)
		return zero, false
	}
	if slid := now.Add(c.ttl / 2); slid.Before(entry.absExp) {
		entry.slideExp = slid
	} else {
		entry.slideExp = entry.absExp
	}
	return entry.value, true
}

// Remove drops a key explicitly (for example after a successful update).
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.items[key]; ok {
		c.evictLocked(key, entry.gen)
	}
}

// Values snapshots every live, unexpired entry.
func (c *Cache[V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	out := make([]V, 0, len(c.index))
	for key := range c.index {
		entry, ok := c.items[key]
		if !ok {
			delete(c.index, key)
			continue
		}
		if now.After(entry.slideExp) || now.After(entry.absExp) {
			c.evictLocked(key, entry.gen)
			continue
		}
		out = append(out, entry.value)
	}
	return out
}

// Len reports the number of live keys in the index.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// InvalidateAll atomically snapshots and clears the key index before
// removing entries, so a concurrent Set cannot be left as a stale index
// entry pointing at a removed value.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := c.index
	c.index = make(map[string]uint64)
	for key, gen := range snapshot {
		if entry, ok := c.items[key]; ok && entry.gen == gen {
			delete(c.items, key)
		}
	}
}

// evictLocked removes the entry and prunes the index exactly once: if the
// index already points at a newer generation (the key was replaced), the
// index entry belongs to the replacement and stays.
func (c *Cache[V]) evictLocked(key string, gen uint64) {
	if entry, ok := c.items[key]; ok && entry.gen == gen {
		delete(c.items, key)
	}
	if indexed, ok := c.index[key]; ok && indexed == gen {
		delete(c.index, key)
	}
}
