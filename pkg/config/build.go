package config

import (
	"fmt"

	"github.com/Sternrassler/exchange-cache/pkg/cache"
	"github.com/Sternrassler/exchange-cache/pkg/mediation"
)

// Pipeline is the Finder and Collector pair of one cache id. Either side may
// be nil when the file only declares one of them.
type Pipeline struct {
	ID        string
	Finder    *mediation.Coordinator
	Collector *mediation.Coordinator
}

// LoaderFactory returns the load-on-miss function of a cache id.
type LoaderFactory func(cacheID string, ttlSeconds int64, clock cache.Clock) cache.Loader

type buildOptions struct {
	coordinator []mediation.Option
	loaders     LoaderFactory
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

// WithCoordinatorOptions passes opts to every Coordinator.
func WithCoordinatorOptions(opts ...mediation.Option) BuildOption {
	return func(b *buildOptions) {
		b.coordinator = append(b.coordinator, opts...)
	}
}

// WithLoaderFactory sets the loader used for each cache id, for example
// replication.Redis.Loader.
func WithLoaderFactory(f LoaderFactory) BuildOption {
	return func(b *buildOptions) {
		b.loaders = f
	}
}

// Build creates the coordinators of every definition in reg. Finders are
// created first so that their store settings are in place before any
// Collector shares the store.
func (c *Config) Build(reg *cache.Registry, opts ...BuildOption) (map[string]*Pipeline, error) {
	var b buildOptions
	for _, opt := range opts {
		opt(&b)
	}

	pipelines := make(map[string]*Pipeline)
	for _, collectors := range []bool{false, true} {
		for _, d := range c.Caches {
			if d.Collector != collectors {
				continue
			}
			mcfg, err := d.MediationConfig()
			if err != nil {
				return nil, fmt.Errorf("cache %q: %w", d.ID, err)
			}

			copts := append([]mediation.Option(nil), b.coordinator...)
			if b.loaders != nil {
				ttl := mcfg.TTLSeconds
				if ttl == 0 {
					ttl = cache.DefaultTTLSeconds
				}
				copts = append(copts, mediation.WithLoader(b.loaders(d.ID, ttl, reg.Clock())))
			}

			coord, err := mediation.New(reg, mcfg, copts...)
			if err != nil {
				return nil, fmt.Errorf("cache %q: %w", d.ID, err)
			}

			p, ok := pipelines[d.ID]
			if !ok {
				p = &Pipeline{ID: d.ID}
				pipelines[d.ID] = p
			}
			if d.Collector {
				p.Collector = coord
			} else {
				p.Finder = coord
			}
		}
	}
	return pipelines, nil
}
