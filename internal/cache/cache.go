// Package cache provides the bounded TTL + LRU cache shared by price loading
// and optimization results, plus an optional shared tier backed by Redis.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCapacity is the entry bound used when none is configured.
const DefaultCapacity = 100

// entry is immutable once stored; Set replaces it instead of updating it.
type entry struct {
	key       string
	value     interface{}
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size        int    `json:"size"`
	Capacity    int    `json:"capacity"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Generation  uint64 `json:"generation"`
}

// Cache is a goroutine-safe key/value store with per-entry TTL and LRU
// eviction once capacity is reached.
type Cache struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	ll         *list.List // front = most recently used
	items      map[string]*list.Element
	now        func() time.Time
	generation uint64
	stats      Stats
	log        zerolog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithDefaultTTL sets the TTL used when Set is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.defaultTTL = ttl }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log.With().Str("component", "cache").Logger() }
}

// New creates a cache holding at most capacity entries.
func New(capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key. Expired entries are removed and
// reported as a miss. A hit marks the entry as most recently used.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	e := el.Value.(*entry)
	if e.expired(c.now()) {
		c.removeElement(el)
		c.stats.Expirations++
		c.stats.Misses++
		return nil, false
	}

	c.ll.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Set stores value under key for ttl (ttl <= 0 uses the default TTL; with no
// default the entry never expires). When the cache is full the least recently
// used entry is evicted first.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value, ttl)
}

// SetIfGeneration stores the value only if Clear has not run since gen was
// obtained from Generation. It reports whether the value was stored.
func (c *Cache) SetIfGeneration(key string, value interface{}, ttl time.Duration, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		return false
	}
	c.set(key, value, ttl)
	return true
}

func (c *Cache) set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	e := &entry{key: key, value: value, createdAt: c.now(), ttl: ttl}

	if el, ok := c.items[key]; ok {
		el.Value = e
		c.ll.MoveToFront(el)
		return
	}

	if c.ll.Len() >= c.capacity {
		if oldest := c.ll.Back(); oldest != nil {
			c.removeElement(oldest)
			c.stats.Evictions++
		}
	}

	c.items[key] = c.ll.PushFront(e)
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Clear drops every entry. Reads that happen after Clear returns miss, and
// writes guarded by an older generation are rejected.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[string]*list.Element, c.capacity)
	c.generation++
	c.log.Info().Uint64("generation", c.generation).Msg("Cache cleared")
}

// EvictExpired removes all expired entries and returns how many were removed.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry).expired(now) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	c.stats.Expirations += uint64(removed)
	return removed
}

// Generation returns a counter incremented by every Clear.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.ll.Len()
	s.Capacity = c.capacity
	s.Generation = c.generation
	return s
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
