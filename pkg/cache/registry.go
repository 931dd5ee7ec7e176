package cache

import (
	"sort"
	"sync"
	"time"
)

// Registry maps cache ids to their Cache and Store. Both are created lazily
// on first reference and dropped together by Clear.
type Registry struct {
	mu      sync.Mutex
	caches  map[string]*Cache
	stores  map[string]*Store
	clock   Clock
	horizon time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock sets the clock used by caches and entries.
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithHorizon overrides InvalidationHorizon. Zero disables horizon eviction.
func WithHorizon(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.horizon = d
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		caches:  make(map[string]*Cache),
		stores:  make(map[string]*Store),
		clock:   time.Now,
		horizon: InvalidationHorizon,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Clock returns the registry clock.
func (r *Registry) Clock() Clock {
	return r.clock
}

// GetOrCreateStore returns the store for id, creating one with defaults.
func (r *Registry) GetOrCreateStore(id string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stores[id]
	if !ok {
		s = NewStore()
		r.stores[id] = s
	}
	return s
}

// GetOrCreateCache returns the cache for id. The first caller fixes the
// bound and loader; later callers receive the existing cache unchanged.
// maxEntries <= 0 means unbounded. A nil loader creates empty entries with
// DefaultTTLSeconds.
func (r *Registry) GetOrCreateCache(id string, maxEntries int, loader Loader) *Cache {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.caches[id]; ok {
		return c
	}
	if loader == nil {
		loader = EmptyLoader(DefaultTTLSeconds, r.clock)
	}
	c := newCache(id, maxEntries, r.horizon, r.clock, loader)
	r.caches[id] = c
	return c
}

// HasID reports whether a cache exists for id.
func (r *Registry) HasID(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.caches[id]
	return ok
}

// IDs returns the ids with a cache, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.caches))
	for id := range r.caches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear drops every cache and store. It is called when the owning pipeline
// configuration is torn down.
func (r *Registry) Clear() {
	r.mu.Lock()
	caches := r.caches
	r.caches = make(map[string]*Cache)
	r.stores = make(map[string]*Store)
	r.mu.Unlock()

	for _, c := range caches {
		c.purge()
	}
}
