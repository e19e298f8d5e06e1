package resilience

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const maxSweepInterval = 60 * time.Second

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a bounded LRU with a per-entry TTL. Expired entries are dropped
// on access and by a background sweep that runs every min(TTL, 60s).
// Eviction beyond capacity removes the least recently used entry; Get
// refreshes an entry's recency.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries *lru.Cache[K, cacheEntry[V]]
	ttl     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewCache creates a cache holding at most size entries, each valid for ttl.
func NewCache[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	if size < 1 {
		size = 1
	}
	// lru.New only errors on non-positive size.
	entries, _ := lru.New[K, cacheEntry[V]](size)

	c := &Cache[K, V]{
		entries: entries,
		ttl:     ttl,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go c.sweep()
	return c
}

// Get returns the cached value for key, refreshing its recency. Expired
// entries are removed and reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.expired(entry) {
		c.entries.Remove(key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, cacheEntry[V]{value: value, storedAt: c.now()})
}

// Delete removes key from the cache.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
}

// Len returns the number of entries, including any not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache[K, V]) expired(e cacheEntry[V]) bool {
	return c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl
}

func (c *Cache[K, V]) sweep() {
	interval := c.ttl
	if interval <= 0 || interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired scans keys oldest-first and drops expired entries without
// touching recency.
func (c *Cache[K, V]) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(key); ok && c.expired(entry) {
			c.entries.Remove(key)
		}
	}
}
