// Package lru implements a generic, thread-safe recency list with an
// optional capacity. Put and Delete are O(1); Resize is O(evicted).
//
// Only writes refresh recency, so the list orders keys by last write. That
// is the order a response cache needs when it keeps the newest entries.
package lru

import "sync"

type node[K comparable, V any] struct {
	key  K
	val  V
	prev *node[K, V]
	next *node[K, V]
}

// EvictFunc is called, with the lock released, for every entry removed to
// honour the capacity.
type EvictFunc[K comparable, V any] func(key K, val V)

// Cache is a generic, thread-safe LRU list. A capacity of 0 means unbounded.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*node[K, V]
	head     *node[K, V] // sentinel before the most recent entry
	tail     *node[K, V] // sentinel after the oldest entry
	onEvict  EvictFunc[K, V]
}

// New creates a cache with the given capacity (0 = unbounded).
// Panics if capacity < 0.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 0 {
		panic("lru: capacity must be >= 0")
	}
	c := &Cache[K, V]{
		capacity: capacity,
		items:    make(map[K]*node[K, V]),
		head:     &node[K, V]{},
		tail:     &node[K, V]{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// OnEvict registers fn to be called for capacity evictions. Delete and
// Clear do not call it.
func (c *Cache[K, V]) OnEvict(fn EvictFunc[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Put inserts or updates key and makes it the most recent entry. When the
// cache is over capacity the oldest entries are evicted and their keys
// returned.
func (c *Cache[K, V]) Put(key K, val V) []K {
	c.mu.Lock()
	if n, ok := c.items[key]; ok {
		n.val = val
		c.unlink(n)
		c.pushFront(n)
	} else {
		n := &node[K, V]{key: key, val: val}
		c.items[key] = n
		c.pushFront(n)
	}
	return c.evict(c.capacity)
}

// Delete removes key. Returns true if it existed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(n)
	delete(c.items, key)
	return true
}

// Resize changes the capacity and evicts down to it, oldest first. Returns
// the evicted keys.
func (c *Cache[K, V]) Resize(capacity int) []K {
	c.mu.Lock()
	c.capacity = max(capacity, 0)
	return c.evict(c.capacity)
}

// Len returns the current number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes all entries without calling the eviction callback.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[K]*node[K, V])
}

// evict drops the oldest entries until at most limit remain (0 = no limit),
// then releases the lock and runs the eviction callback. Caller holds the
// lock.
func (c *Cache[K, V]) evict(limit int) []K {
	var victims []*node[K, V]
	for limit > 0 && len(c.items) > limit {
		n := c.tail.prev
		c.unlink(n)
		delete(c.items, n.key)
		victims = append(victims, n)
	}
	fn := c.onEvict
	c.mu.Unlock()

	keys := make([]K, 0, len(victims))
	for _, n := range victims {
		if fn != nil {
			fn(n.key, n.val)
		}
		keys = append(keys, n.key)
	}
	return keys
}

func (c *Cache[K, V]) unlink(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}
