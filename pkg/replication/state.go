// Package replication propagates cache state to other cluster members.
//
// Replication is a best-effort side channel. A node never depends on it for
// correctness; it only lets peers answer a Collector for an exchange whose
// Finder ran elsewhere, and warm their caches from entries collected by others.
package replication

import (
	"context"
	"strings"

	"github.com/Sternrassler/exchange-cache/pkg/cache"
)

// Redis key layout for replicated state.
const (
	KeyPrefix         = "exchange-cache"
	keyExchangeSuffix = "exchange"
	keyEntrySuffix    = "entry"
)

// ExchangeState is the exchange-scoped state of one in-flight exchange: the
// request hash slot and the cached object slot.
type ExchangeState struct {
	ExchangeID  string          `json:"exchange_id"`
	CacheID     string          `json:"cache_id"`
	RequestHash string          `json:"request_hash"`
	Entry       *cache.Snapshot `json:"cached_object,omitempty"`
}

// Replicator publishes state for cluster visibility.
type Replicator interface {
	// ReplicateExchange publishes the correlation state of an exchange.
	ReplicateExchange(ctx context.Context, state ExchangeState) error

	// ReplicateEntry publishes the current state of a cache entry.
	ReplicateEntry(ctx context.Context, cacheID string, entry cache.Snapshot) error
}

// StateLoader reads state published by any cluster member.
type StateLoader interface {
	// LoadExchange returns the replicated state of an exchange, or
	// ErrNotFound.
	LoadExchange(ctx context.Context, exchangeID string) (*ExchangeState, error)

	// LoadEntry returns a replicated cache entry, or ErrNotFound.
	LoadEntry(ctx context.Context, cacheID, fingerprint string) (*cache.Snapshot, error)
}

// Nop discards everything. It is the replicator of a single node.
type Nop struct{}

// ReplicateExchange implements Replicator.
func (Nop) ReplicateExchange(context.Context, ExchangeState) error { return nil }

// ReplicateEntry implements Replicator.
func (Nop) ReplicateEntry(context.Context, string, cache.Snapshot) error { return nil }

// LoadExchange implements StateLoader.
func (Nop) LoadExchange(context.Context, string) (*ExchangeState, error) { return nil, ErrNotFound }

// LoadEntry implements StateLoader.
func (Nop) LoadEntry(context.Context, string, string) (*cache.Snapshot, error) {
	return nil, ErrNotFound
}

// ExchangeKey returns the Redis key holding an exchange's state.
//
// Example:
//
//	exchange-cache:exchange:1f0c...
func ExchangeKey(exchangeID string) string {
	return strings.Join([]string{KeyPrefix, keyExchangeSuffix, exchangeID}, ":")
}

// EntryKey returns the Redis key holding a replicated entry. An empty cache id
// is kept as an empty segment so ids stay distinct.
//
// Example:
//
//	exchange-cache:entry:orders:9e107d9d372bb6826bd81d3542a419d6
func EntryKey(cacheID, fingerprint string) string {
	return strings.Join([]string{KeyPrefix, keyEntrySuffix, cacheID, fingerprint}, ":")
}
