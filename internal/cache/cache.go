// Package cache provides the named response caches used by the master and
// the central invalidation rules that keep them coherent with the
// directory and the key-value store.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	value   interface{}
	expires time.Time
}

// Cache is one named, bounded, TTL'd response cache. Capacity 0 means
// unbounded. Both successful and negative lookup results are stored, so a
// known-absent entity stays cheap to re-ask for.
type Cache struct {
	name     string
	ttl      time.Duration
	disabled bool

	mu  sync.Mutex
	lru *lru.Cache[string, entry] // capacity > 0
	all map[string]entry          // capacity == 0
}

// New creates a cache. When disabled is set, every Get misses and every
// Set is a no-op; the sentinel lets operators switch caching off globally.
func New(name string, capacity int, ttl time.Duration, disabled bool) *Cache {
	c := &Cache{name: name, ttl: ttl, disabled: disabled}
	if capacity > 0 {
		c.lru, _ = lru.New[string, entry](capacity)
	} else {
		c.all = make(map[string]entry)
	}
	return c
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// Get returns the cached value for key. The second return distinguishes a
// hit (possibly with a nil value) from a miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	if c.disabled {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var e entry
	var ok bool
	if c.lru != nil {
		e, ok = c.lru.Get(key)
	} else {
		e, ok = c.all[key]
	}
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.removeLocked(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key, replacing any prior entry and refreshing the
// TTL. A nil value records a negative result.
func (c *Cache) Set(key string, value interface{}) {
	if c.disabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry{value: value, expires: time.Now().Add(c.ttl)}
	if c.lru != nil {
		c.lru.Add(key, e)
	} else {
		c.all[key] = e
	}
}

// Del removes the entry for key.
func (c *Cache) Del(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Reset empties the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru != nil {
		c.lru.Purge()
	} else {
		c.all = make(map[string]entry)
	}
}

// Len returns the number of live entries, counting expired ones until they
// are next touched.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru != nil {
		return c.lru.Len()
	}
	return len(c.all)
}

func (c *Cache) removeLocked(key string) {
	if c.lru != nil {
		c.lru.Remove(key)
	} else {
		delete(c.all, key)
	}
}
