package mediation

import (
	"context"
	"strings"

	"github.com/Sternrassler/exchange-cache/pkg/cache"
	"github.com/Sternrassler/exchange-cache/pkg/fingerprint"
)

// MethodGet is the only method that enables address-only fingerprints.
const MethodGet = "GET"

// Config configures one Coordinator. A Finder and a Collector sharing a
// CacheID share one cache and one store.
type Config struct {
	// CacheID names the pipeline.
	CacheID string
	// Collector selects the response-side role.
	Collector bool
	// TTLSeconds is the entry ttl. Zero means cache.DefaultTTLSeconds.
	TTLSeconds int64
	// Methods are the idempotent-read methods. Empty means GET only.
	Methods []string
	// ExcludedHeaders are left out of fingerprints. fingerprint.ExcludeAll
	// excludes every header.
	ExcludedHeaders []string
	// Generator computes fingerprints. Nil means fingerprint.Default().
	Generator fingerprint.Generator
	// MaxEntries bounds the in-memory cache. Zero or less means
	// cache.DefaultMaxEntries.
	MaxEntries int

	// Store settings, applied by the Finder only.

	// MaxPayloadSize is the largest cacheable payload in bytes. Zero or
	// cache.Unbounded means no limit.
	MaxPayloadSize int
	// AcceptedStatus is the accepted status pattern. Empty keeps the default.
	AcceptedStatus string
	// Protocol is the protocol discriminator. Empty keeps HTTP.
	Protocol string

	// OnHit runs after a fresh hit has been written into the message.
	OnHit OnHit
}

// OnHit is the continuation of a cache hit.
type OnHit struct {
	// SequenceRef names a sequence known to the SequenceResolver.
	SequenceRef string
	// Sequence is an inline sequence. It takes precedence over SequenceRef.
	Sequence Sequence
	// ContinueExecution keeps the pipeline running after a hit.
	ContinueExecution bool
}

// Sequence is a host mediation sequence.
type Sequence interface {
	Mediate(ctx context.Context, ex *Exchange) error
}

// SequenceFunc adapts a function to Sequence.
type SequenceFunc func(ctx context.Context, ex *Exchange) error

// Mediate implements Sequence.
func (f SequenceFunc) Mediate(ctx context.Context, ex *Exchange) error {
	return f(ctx, ex)
}

// SequenceResolver looks up named sequences.
type SequenceResolver interface {
	Resolve(name string) (Sequence, bool)
}

// Sequences is a static SequenceResolver.
type Sequences map[string]Sequence

// Resolve implements SequenceResolver.
func (s Sequences) Resolve(name string) (Sequence, bool) {
	seq, ok := s[name]
	return seq, ok
}

func (c Config) withDefaults() Config {
	if c.TTLSeconds == 0 {
		c.TTLSeconds = cache.DefaultTTLSeconds
	}
	if len(c.Methods) == 0 {
		c.Methods = []string{MethodGet}
	}
	if c.Generator == nil {
		c.Generator = fingerprint.Default()
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = cache.DefaultMaxEntries
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = cache.Unbounded
	}
	return c
}

func (c Config) role() Role {
	if c.Collector {
		return RoleCollector
	}
	return RoleFinder
}

// getOnly reports whether GET is the only idempotent-read method.
func (c Config) getOnly() bool {
	return len(c.Methods) == 1 && strings.EqualFold(c.Methods[0], MethodGet)
}
