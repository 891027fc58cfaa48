package proc

import (
	"sync"
	"time"
)

// EvictReason tells an eviction callback why an entry left the cache.
type EvictReason int

const (
	EvictCapacity EvictReason = iota
	EvictExpired
	EvictRemoved
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictExpired:
		return "expired"
	default:
		return "removed"
	}
}

type lruEntry[K comparable, V any] struct {
	key       K
	value     V
	prev      *lruEntry[K, V]
	next      *lruEntry[K, V]
	expiresAt time.Time
}

// LRUStats is a point-in-time view of cache counters.
type LRUStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	HitRate   float64 `json:"hit_rate"`
}

// LRUCache is a bounded, access-ordered map with per-entry expiry.
//
// head.next is the most recently used entry and tail.prev the least.
// The eviction callback runs after the lock is released so it may perform I/O.
type LRUCache[K comparable, V any] struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration
	items    map[K]*lruEntry[K, V]
	head     *lruEntry[K, V]
	tail     *lruEntry[K, V]

	hits      int64
	misses    int64
	evictions int64

	onEvict func(key K, value V, reason EvictReason)
	now     func() time.Time
}

type evicted[K comparable, V any] struct {
	key    K
	value  V
	reason EvictReason
}

// NewLRUCache creates a cache holding at most capacity entries. A ttl of zero
// disables expiry.
func NewLRUCache[K comparable, V any](capacity int, ttl time.Duration) *LRUCache[K, V] {
	if capacity <= 0 {
		capacity = 1000
	}
	c := &LRUCache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*lruEntry[K, V], capacity),
		head:     &lruEntry[K, V]{},
		tail:     &lruEntry[K, V]{},
		now:      time.Now,
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// OnEvict installs a callback invoked for every entry that leaves the cache.
func (c *LRUCache[K, V]) OnEvict(fn func(key K, value V, reason EvictReason)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get returns the value for key and marks it most recently used. Expired
// entries are purged and reported as a miss.
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	var zero V
	c.mu.Lock()
	entry, ok := c.items[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return zero, false
	}
	if c.expired(entry) {
		c.unlink(entry)
		c.misses++
		c.mu.Unlock()
		c.notify([]evicted[K, V]{{entry.key, entry.value, EvictExpired}})
		return zero, false
	}
	c.moveToFront(entry)
	c.hits++
	v := entry.value
	c.mu.Unlock()
	return v, true
}

// Peek returns the value without touching order or counters.
func (c *LRUCache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.items[key]; ok && !c.expired(entry) {
		return entry.value, true
	}
	var zero V
	return zero, false
}

// Put inserts or replaces key using the cache-wide ttl.
func (c *LRUCache[K, V]) Put(key K, value V) {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}
	c.PutWithExpiry(key, value, expiresAt)
}

// PutWithTTL inserts key with its own ttl. Zero means no expiry.
func (c *LRUCache[K, V]) PutWithTTL(key K, value V, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	c.PutWithExpiry(key, value, expiresAt)
}

// PutWithExpiry inserts key with an absolute deadline. A zero time never expires.
func (c *LRUCache[K, V]) PutWithExpiry(key K, value V, expiresAt time.Time) {
	c.mu.Lock()
	if entry, ok := c.items[key]; ok {
		entry.value = value
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		c.mu.Unlock()
		return
	}

	entry := &lruEntry[K, V]{key: key, value: value, expiresAt: expiresAt}
	c.addToFront(entry)
	c.items[key] = entry

	var out []evicted[K, V]
	for len(c.items) > c.capacity {
		oldest := c.tail.prev
		c.unlink(oldest)
		c.evictions++
		out = append(out, evicted[K, V]{oldest.key, oldest.value, EvictCapacity})
	}
	c.mu.Unlock()
	c.notify(out)
}

// Remove deletes key and reports whether it was present.
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	entry, ok := c.items[key]
	if ok {
		c.unlink(entry)
	}
	c.mu.Unlock()
	if ok {
		c.notify([]evicted[K, V]{{entry.key, entry.value, EvictRemoved}})
	}
	return ok
}

// CleanupExpired purges every expired entry and returns how many were removed.
func (c *LRUCache[K, V]) CleanupExpired() int {
	c.mu.Lock()
	var out []evicted[K, V]
	for e := c.tail.prev; e != c.head; {
		prev := e.prev
		if c.expired(e) {
			c.unlink(e)
			out = append(out, evicted[K, V]{e.key, e.value, EvictExpired})
		}
		e = prev
	}
	c.mu.Unlock()
	c.notify(out)
	return len(out)
}

// Clear drops every entry without invoking the eviction callback.
func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*lruEntry[K, V], c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns keys from most to least recently used.
func (c *LRUCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, len(c.items))
	for e := c.head.next; e != c.tail; e = e.next {
		keys = append(keys, e.key)
	}
	return keys
}

// Range calls fn for every live entry from most to least recently used.
// fn must not call back into the cache.
func (c *LRUCache[K, V]) Range(fn func(key K, value V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.head.next; e != c.tail; e = e.next {
		if c.expired(e) {
			continue
		}
		if !fn(e.key, e.value) {
			return
		}
	}
}

func (c *LRUCache[K, V]) Stats() LRUStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := LRUStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.items),
		Capacity:  c.capacity,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// --- list plumbing, callers hold c.mu ---

func (c *LRUCache[K, V]) expired(e *lruEntry[K, V]) bool {
	return !e.expiresAt.IsZero() && c.now().After(e.expiresAt)
}

func (c *LRUCache[K, V]) addToFront(e *lruEntry[K, V]) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *LRUCache[K, V]) moveToFront(e *lruEntry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.addToFront(e)
}

func (c *LRUCache[K, V]) unlink(e *lruEntry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
	delete(c.items, e.key)
}

func (c *LRUCache[K, V]) notify(out []evicted[K, V]) {
	if len(out) == 0 {
		return
	}
	c.mu.Lock()
	fn := c.onEvict
	c.mu.Unlock()
	if fn == nil {
		return
	}
	for _, ev := range out {
		fn(ev.key, ev.value, ev.reason)
	}
}
