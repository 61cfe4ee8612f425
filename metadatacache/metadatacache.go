// Package metadatacache implements the bounded cache-key -> ImageDescriptor
// mapping of spec §4.3: FIFO eviction on overflow, disabled entirely when
// capacity is zero, and borrow-counted entries so a descriptor in active
// use by a request is never evicted out from under it.
package metadatacache

import (
	"container/list"
	"sync"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
)

type entry struct {
	key        string
	descriptor *core.ImageDescriptor
	borrows    int
}

// Cache is a bounded, FIFO-eviction map from cache key to *ImageDescriptor.
// Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = oldest insertion
	byKey    map[string]*list.Element
}

// New returns a Cache with the given capacity. A capacity of 0 disables
// caching: every Put is a no-op and every Get misses.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		byKey:    make(map[string]*list.Element),
	}
}

// Get returns the cached descriptor for key, incrementing its borrow count
// so it cannot be evicted until a matching Release. The caller must call
// Release exactly once per successful Get.
func (c *Cache) Get(key string) (*core.ImageDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	e.borrows++
	return e.descriptor, true
}

// Release decrements the borrow count previously acquired by Get. It is
// safe to call even if the entry was evicted while borrowed (a no-op then,
// since the descriptor itself is not shared once unreachable).
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byKey[key]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	if e.borrows > 0 {
		e.borrows--
	}
}

// Put inserts d under key if the cache has capacity. When at capacity, the
// oldest unborrowed entry is evicted to make room; if every entry is
// currently borrowed, the new descriptor is admitted anyway without
// evicting (the cache may transiently exceed its bound rather than drop a
// descriptor a request still holds).
//
// A capacity of 0 makes Put a no-op: every request creates and discards
// its own descriptor, matching "N = 0 disables the descriptor cache".
func (c *Cache) Put(key string, d *core.ImageDescriptor) {
	if c.capacity == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byKey[key]; ok {
		existing.Value.(*entry).descriptor = d
		return
	}

	for c.order.Len() >= c.capacity {
		if !c.evictOldestUnborrowedLocked() {
			break
		}
	}

	el := c.order.PushBack(&entry{key: key, descriptor: d})
	c.byKey[key] = el
}

// evictOldestUnborrowedLocked removes the first entry in insertion order
// with a zero borrow count. It reports whether anything was evicted.
func (c *Cache) evictOldestUnborrowedLocked() bool {
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.borrows == 0 {
			c.order.Remove(el)
			delete(c.byKey, e.key)
			return true
		}
	}
	return false
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns N, the configured maximum entry count (0 = disabled).
func (c *Cache) Capacity() int {
	return c.capacity
}
