package cache

import (
	"container/list"
	"sync"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Bounded is a thread-safe cache with a fixed capacity and insertion-order
// eviction: when the cache is full, the oldest-inserted item is evicted.
// Reads and value updates do not refresh an item's position, so eviction
// order is a pure function of insertion order and stays reproducible.
type Bounded[K comparable, V any] struct {
	capacity int
	items    map[K]*list.Element
	order    *list.List // front = oldest inserted
	mu       sync.Mutex
	onEvict  func(key K, value V)
}

// New creates a bounded cache with the specified capacity.
// The capacity must be positive, otherwise it panics.
func New[K comparable, V any](capacity int) *Bounded[K, V] {
	if capacity <= 0 {
		panic("cache capacity must be positive")
	}
	return &Bounded[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

// SetEvictCallback sets a callback invoked for every evicted or cleared item.
func (c *Bounded[K, V]) SetEvictCallback(fn func(key K, value V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get retrieves a value. Unlike an LRU cache, a hit does not change the
// item's eviction position.
func (c *Bounded[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		return elem.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Put adds or updates a value. Updating an existing key keeps its insertion
// position. When a new key pushes the cache over capacity, the oldest
// inserted item is evicted. Returns the previous value, if any.
func (c *Bounded[K, V]) Put(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[K, V])
		old := e.value
		e.value = value
		return old, true
	}

	c.items[key] = c.order.PushBack(&entry[K, V]{key: key, value: value})
	if c.order.Len() > c.capacity {
		c.evictOldest()
	}

	var zero V
	return zero, false
}

// Remove removes an item. Returns the removed value, if any.
func (c *Bounded[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[K, V])
		c.removeElement(elem)
		return e.value, true
	}
	var zero V
	return zero, false
}

// Len returns the number of cached items.
func (c *Bounded[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Contains reports whether the key is cached, without affecting anything.
func (c *Bounded[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Clear removes all items, invoking the evict callback for each one.
func (c *Bounded[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvict != nil {
		for elem := c.order.Front(); elem != nil; elem = elem.Next() {
			e := elem.Value.(*entry[K, V])
			c.onEvict(e.key, e.value)
		}
	}
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// Must be called with lock held.
func (c *Bounded[K, V]) evictOldest() {
	if elem := c.order.Front(); elem != nil {
		c.removeElement(elem)
	}
}

// Must be called with lock held.
func (c *Bounded[K, V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	e := elem.Value.(*entry[K, V])
	delete(c.items, e.key)

	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}
