package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// InvalidationHorizon is how long an entry may stay in a Cache after its
	// last write, regardless of the entry's own ttl.
	InvalidationHorizon = 24 * time.Hour

	// DefaultMaxEntries bounds a Cache when no size is configured.
	DefaultMaxEntries = 10000

	// DefaultTTLSeconds is the entry ttl when none is configured.
	DefaultTTLSeconds int64 = 5000
)

// Loader produces the entry for a fingerprint that is not cached yet.
type Loader func(ctx context.Context, fingerprint string) (*CacheEntry, error)

// EmptyLoader returns a Loader creating unpopulated entries with ttlSeconds.
func EmptyLoader(ttlSeconds int64, clock Clock) Loader {
	return func(_ context.Context, fingerprint string) (*CacheEntry, error) {
		return NewEntry(fingerprint, ttlSeconds, clock), nil
	}
}

type item struct {
	fingerprint string
	entry       *CacheEntry
	writtenAt   time.Time
}

// Cache is a bounded fingerprint → entry map for one cache id.
//
// Entries are dropped a fixed horizon after their last write and, when a
// bound is set, the least recently used entry is evicted first. Get loads
// missing entries at most once per fingerprint: concurrent misses observe the
// same entry instance.
type Cache struct {
	id         string
	maxEntries int
	horizon    time.Duration
	clock      Clock
	loader     Loader

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front is most recently used

	loads singleflight.Group
}

func newCache(id string, maxEntries int, horizon time.Duration, clock Clock, loader Loader) *Cache {
	return &Cache{
		id:         id,
		maxEntries: maxEntries,
		horizon:    horizon,
		clock:      clock,
		loader:     loader,
		items:      make(map[string]*list.Element),
		lru:        list.New(),
	}
}

// ID returns the cache id.
func (c *Cache) ID() string {
	return c.id
}

// MaxEntries returns the entry bound; zero or less means unbounded.
func (c *Cache) MaxEntries() int {
	return c.maxEntries
}

// Get returns the entry for fingerprint, loading and storing it on a miss.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*CacheEntry, error) {
	if fingerprint == "" {
		return nil, errors.New("cache: fingerprint is empty")
	}
	if e, ok := c.lookup(fingerprint); ok {
		return e, nil
	}

	v, err, _ := c.loads.Do(fingerprint, func() (any, error) {
		if e, ok := c.lookup(fingerprint); ok {
			return e, nil
		}
		e, err := c.loader(ctx, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("cache: load %s: %w", fingerprint, err)
		}
		if e == nil {
			return nil, fmt.Errorf("cache: loader returned no entry for %s", fingerprint)
		}
		return c.insertIfAbsent(fingerprint, e), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CacheEntry), nil
}

// Peek returns the cached entry without loading.
func (c *Cache) Peek(fingerprint string) (*CacheEntry, bool) {
	return c.lookup(fingerprint)
}

// Put stores entry under fingerprint and restarts its eviction horizon.
func (c *Cache) Put(fingerprint string, entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(fingerprint, entry)
}

// Invalidate removes the entry for fingerprint.
func (c *Cache) Invalidate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[fingerprint]; ok {
		c.removeLocked(el)
	}
}

// Len returns the number of entries held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	CacheEntries.WithLabelValues(c.id).Set(0)
}

func (c *Cache) lookup(fingerprint string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[fingerprint]
	if !ok {
		return nil, false
	}
	it := el.Value.(*item)
	if c.pastHorizon(it) {
		c.removeLocked(el)
		CacheEvictions.WithLabelValues(c.id, "horizon").Inc()
		return nil, false
	}
	c.lru.MoveToFront(el)
	return it.entry, true
}

func (c *Cache) insertIfAbsent(fingerprint string, entry *CacheEntry) *CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[fingerprint]; ok {
		it := el.Value.(*item)
		if !c.pastHorizon(it) {
			c.lru.MoveToFront(el)
			return it.entry
		}
	}
	c.storeLocked(fingerprint, entry)
	return entry
}

func (c *Cache) storeLocked(fingerprint string, entry *CacheEntry) {
	now := c.clock()
	if el, ok := c.items[fingerprint]; ok {
		it := el.Value.(*item)
		it.entry = entry
		it.writtenAt = now
		c.lru.MoveToFront(el)
		return
	}

	c.items[fingerprint] = c.lru.PushFront(&item{fingerprint: fingerprint, entry: entry, writtenAt: now})
	for c.maxEntries > 0 && c.lru.Len() > c.maxEntries {
		c.removeLocked(c.lru.Back())
		CacheEvictions.WithLabelValues(c.id, "size").Inc()
	}
	CacheEntries.WithLabelValues(c.id).Set(float64(c.lru.Len()))
}

func (c *Cache) removeLocked(el *list.Element) {
	it := c.lru.Remove(el).(*item)
	delete(c.items, it.fingerprint)
	CacheEntries.WithLabelValues(c.id).Set(float64(c.lru.Len()))
}

func (c *Cache) pastHorizon(it *item) bool {
	return c.horizon > 0 && c.clock().Sub(it.writtenAt) >= c.horizon
}
