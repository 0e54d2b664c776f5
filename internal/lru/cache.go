package lru

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// EvictReason tells an eviction callback why an entry was dropped.
type EvictReason int

const (
	// EvictedCapacity means the entry was the least recently used one when a
	// new key was added to a full cache.
	EvictedCapacity EvictReason = iota + 1
	// EvictedExpired means the entry outlived the cache TTL.
	EvictedExpired
)

// String returns the reason name.
func (r EvictReason) String() string {
	switch r {
	case EvictedCapacity:
		return "capacity"
	case EvictedExpired:
		return "expired"
	default:
		return fmt.Sprintf("EvictReason(%d)", int(r))
	}
}

// Config configures a Cache.
type Config[K comparable, V any] struct {
	// Capacity is the maximum number of entries. Must be positive.
	Capacity int
	// TTL is the time an entry may stay in the cache after it was added.
	// Zero disables expiry.
	TTL time.Duration
	// OnEvict, if set, is called for every entry dropped by the cache itself.
	// It runs after the cache lock is released, so it may call back into the
	// cache.
	OnEvict func(key K, value V, reason EvictReason)
	// Clock defaults to the real clock.
	Clock clock.PassiveClock
}

type entry[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time // zero when the cache has no TTL
}

type eviction[K comparable, V any] struct {
	key    K
	value  V
	reason EvictReason
}

// Cache is a bounded recency cache. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	onEvict  func(K, V, EvictReason)
	clock    clock.PassiveClock

	// order holds *entry values; front is most recently used.
	order *list.List
	items map[K]*list.Element
}

// New creates a Cache. Panics if cfg.Capacity is not positive or cfg.TTL is
// negative.
func New[K comparable, V any](cfg Config[K, V]) *Cache[K, V] {
	if cfg.Capacity <= 0 {
		panic(fmt.Sprintf("fnhost: lru capacity must be greater than 0, got %d", cfg.Capacity))
	}
	if cfg.TTL < 0 {
		panic(fmt.Sprintf("fnhost: lru ttl must not be negative, got %s", cfg.TTL))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Cache[K, V]{
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		onEvict:  cfg.OnEvict,
		clock:    clk,
		order:    list.New(),
		items:    make(map[K]*list.Element, cfg.Capacity),
	}
}

// Add inserts or replaces key. A replaced entry's TTL restarts. Adding a new
// key to a full cache evicts the least recently used entry first.
func (c *Cache[K, V]) Add(key K, value V) {
	var evicted []eviction[K, V]

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.expires = c.expiry()
		c.order.MoveToFront(el)
		c.mu.Unlock()
		return
	}
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			e := c.removeElement(oldest)
			evicted = append(evicted, eviction[K, V]{key: e.key, value: e.value, reason: EvictedCapacity})
		}
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, expires: c.expiry()})
	c.mu.Unlock()

	c.notify(evicted)
}

// Get returns the value for key and promotes it to most recently used.
// An expired entry is evicted and reported as missing.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.expired(e, c.clock.Now()) {
		c.removeElement(el)
		c.mu.Unlock()
		c.notify([]eviction[K, V]{{key: e.key, value: e.value, reason: EvictedExpired}})
		return zero, false
	}
	c.order.MoveToFront(el)
	c.mu.Unlock()
	return e.value, true
}

// Remove deletes key and returns its value. The eviction callback is not
// called: ownership of the value passes to the caller.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := c.removeElement(el)
	return e.value, true
}

// Pop removes and returns the most recently used unexpired entry. Expired
// entries met on the way are evicted. Ownership of the returned value passes
// to the caller.
func (c *Cache[K, V]) Pop() (K, V, bool) {
	var (
		evicted []eviction[K, V]
		key     K
		value   V
		found   bool
	)

	c.mu.Lock()
	now := c.clock.Now()
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := c.removeElement(el)
		if c.expired(e, now) {
			evicted = append(evicted, eviction[K, V]{key: e.key, value: e.value, reason: EvictedExpired})
			el = next
			continue
		}
		key, value, found = e.key, e.value, true
		break
	}
	c.mu.Unlock()

	c.notify(evicted)
	return key, value, found
}

// Purge evicts every expired entry and returns how many were dropped.
func (c *Cache[K, V]) Purge() int {
	var evicted []eviction[K, V]

	c.mu.Lock()
	now := c.clock.Now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*entry[K, V]); c.expired(e, now) {
			c.removeElement(el)
			evicted = append(evicted, eviction[K, V]{key: e.key, value: e.value, reason: EvictedExpired})
		}
		el = prev
	}
	c.mu.Unlock()

	c.notify(evicted)
	return len(evicted)
}

// Drain removes every entry, expired or not, and returns the values from most
// to least recently used. The eviction callback is not called.
func (c *Cache[K, V]) Drain() []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := make([]V, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		values = append(values, el.Value.(*entry[K, V]).value)
	}
	c.order.Init()
	clear(c.items)
	return values
}

// Len returns the number of stored entries, including expired entries that
// have not been purged yet.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the configured capacity.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

func (c *Cache[K, V]) expiry() time.Time {
	if c.ttl == 0 {
		return time.Time{}
	}
	return c.clock.Now().Add(c.ttl)
}

func (c *Cache[K, V]) expired(e *entry[K, V], now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// removeElement unlinks el. Caller holds c.mu.
func (c *Cache[K, V]) removeElement(el *list.Element) *entry[K, V] {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
	return e
}

func (c *Cache[K, V]) notify(evicted []eviction[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, ev := range evicted {
		c.onEvict(ev.key, ev.value, ev.reason)
	}
}
