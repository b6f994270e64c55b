package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

// LRU is a bounded, concurrency-safe least-recently-used map with optional TTL.
// A capacity <= 0 disables size eviction and a ttl <= 0 disables expiry.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruItem[V]
	head     *lruItem[V]
	tail     *lruItem[V]
	now      func() time.Time
	onEvict  func(key string, value V)
}

type lruItem[V any] struct {
	key     string
	value   V
	expires time.Time // zero means never
	prev    *lruItem[V]
	next    *lruItem[V]
}

// NewLRU creates an LRU with the given capacity and default TTL.
func NewLRU[V any](capacity int, ttl time.Duration) *LRU[V] {
	return &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruItem[V]),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Tests use it to step past TTLs.
func (c *LRU[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// OnEvict registers a callback for entries removed by capacity or expiry.
// It runs with the cache lock held and must not call back into the cache.
func (c *LRU[V]) OnEvict(fn func(key string, value V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get retrieves a live value and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.lookup(key)
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(item)
	return item.value, true
}

// Set stores a value with the default TTL.
func (c *LRU[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with an explicit TTL.
func (c *LRU[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value, ttl)
}

// GetOrCreate returns the live value for key, creating and storing it when absent.
func (c *LRU[V]) GetOrCreate(key string, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.lookup(key); ok {
		c.moveToFront(item)
		return item.value
	}
	value := create()
	c.set(key, value, c.ttl)
	return value
}

// Delete removes a key. It reports whether a live entry was removed.
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeItem(item)
	delete(c.items, key)
	return true
}

// Len returns the number of stored entries, expired ones included until touched.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge drops every entry without firing the eviction callback.
func (c *LRU[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*lruItem[V])
	c.head = nil
	c.tail = nil
}

func (c *LRU[V]) lookup(key string) (*lruItem[V], bool) {
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !item.expires.IsZero() && c.now().After(item.expires) {
		c.evict(item)
		return nil, false
	}
	return item, true
}

func (c *LRU[V]) set(key string, value V, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	if item, ok := c.items[key]; ok {
		item.value = value
		item.expires = expires
		c.moveToFront(item)
		return
	}

	item := &lruItem[V]{key: key, value: value, expires: expires}
	c.addToFront(item)
	c.items[key] = item

	if c.capacity > 0 && len(c.items) > c.capacity {
		c.evict(c.tail)
	}
}

func (c *LRU[V]) evict(item *lruItem[V]) {
	if item == nil {
		return
	}
	c.removeItem(item)
	delete(c.items, item.key)
	if c.onEvict != nil {
		c.onEvict(item.key, item.value)
	}
}

// moveToFront moves an item to the front of the LRU list.
func (c *LRU[V]) moveToFront(item *lruItem[V]) {
	if item == c.head {
		return
	}
	c.removeItem(item)
	c.addToFront(item)
}

func (c *LRU[V]) addToFront(item *lruItem[V]) {
	item.next = c.head
	item.prev = nil

	if c.head != nil {
		c.head.prev = item
	}
	c.head = item

	if c.tail == nil {
		c.tail = item
	}
}

func (c *LRU[V]) removeItem(item *lruItem[V]) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}

	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}

	item.prev = nil
	item.next = nil
}

// LRUCache adapts LRU to the byte-oriented Cache port.
type LRUCache struct {
	lru *LRU[[]byte]
}

// NewLRUCache creates a new LRU cache with the specified capacity.
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{lru: NewLRU[[]byte](capacity, 0)}
}

// Get retrieves a value from the cache.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, bool) {
	return c.lru.Get(key)
}

// Set stores a value; ttlSeconds <= 0 keeps it until evicted by capacity.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	c.lru.SetWithTTL(key, value, time.Duration(ttlSeconds)*time.Second)
	return nil
}

// Delete removes a key from the cache.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.lru.Delete(key)
	return nil
}

// Ensure LRUCache implements the Cache interface.
var _ ports.Cache = (*LRUCache)(nil)
