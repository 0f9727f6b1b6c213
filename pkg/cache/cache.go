package cache

import (
	"sync"
	"time"
)

// Item represents a cached item with expiration
type Item[V any] struct {
	Value      V
	Expiration int64
	added      int64
}

// Expired checks if the cache item has expired at the given unix-nano time
func (item Item[V]) Expired(now int64) bool {
	return item.Expiration != 0 && now > item.Expiration
}

// Options configures a Cache.
type Options struct {
	// TTL is the default expiration; zero keeps items until evicted.
	TTL time.Duration
	// MaxItems bounds the cache; the oldest entry is evicted on overflow.
	MaxItems int
	// CleanupInterval runs a purge of expired items; zero disables it.
	CleanupInterval time.Duration
}

// Cache is a thread-safe in-memory cache with expiration
type Cache[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]Item[V]
	opts     Options
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache. Call Close to stop the cleanup goroutine.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	c := &Cache[K, V]{
		items: make(map[K]Item[V]),
		opts:  opts,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if opts.CleanupInterval > 0 {
		go c.cleanupLoop(opts.CleanupInterval)
	}
	return c
}

// Set adds an item to the cache with the default expiration
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithExpiration(key, value, c.opts.TTL)
}

// SetWithExpiration adds an item to the cache with a specific expiration time
func (c *Cache[K, V]) SetWithExpiration(key K, value V, d time.Duration) {
	now := c.now().UnixNano()
	var exp int64
	if d > 0 {
		exp = now + int64(d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.opts.MaxItems > 0 && len(c.items) >= c.opts.MaxItems {
		c.evictOldest()
	}
	c.items[key] = Item[V]{Value: value, Expiration: exp, added: now}
}

// Get retrieves an unexpired item from the cache
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	if !found || item.Expired(c.now().UnixNano()) {
		var zero V
		return zero, false
	}
	return item.Value, true
}

// Delete removes an item from the cache
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Flush removes all items from the cache
func (c *Cache[K, V]) Flush() {
	c.mu.Lock()
	c.items = make(map[K]Item[V])
	c.mu.Unlock()
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache[K, V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (c *Cache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache[K, V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[K, V]) deleteExpired() {
	now := c.now().UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.items {
		if v.Expired(now) {
			delete(c.items, k)
		}
	}
}

// evictOldest drops the entry inserted first. Caller holds the lock.
func (c *Cache[K, V]) evictOldest() {
	var (
		oldestKey K
		oldest    int64
		found     bool
	)
	for k, v := range c.items {
		if !found || v.added < oldest {
			oldestKey, oldest, found = k, v.added, true
		}
	}
	if found {
		delete(c.items, oldestKey)
	}
}
