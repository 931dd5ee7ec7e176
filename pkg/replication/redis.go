package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/exchange-cache/pkg/cache"
	"github.com/Sternrassler/exchange-cache/pkg/logging"
)

// DefaultExchangeTTL bounds how long exchange state stays in Redis. It only
// has to outlive one request/response round trip.
const DefaultExchangeTTL = 5 * time.Minute

// Redis replicates state through a shared Redis instance. Values are JSON.
type Redis struct {
	client      *redis.Client
	logger      zerolog.Logger
	exchangeTTL time.Duration
	entryTTL    time.Duration
}

// RedisOption configures a Redis replicator.
type RedisOption func(*Redis)

// WithLogger sets the replicator logger.
func WithLogger(logger zerolog.Logger) RedisOption {
	return func(r *Redis) {
		r.logger = logger
	}
}

// WithExchangeTTL sets the lifetime of replicated exchange state.
func WithExchangeTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.exchangeTTL = d
	}
}

// WithEntryTTL sets the lifetime of replicated entries.
func WithEntryTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.entryTTL = d
	}
}

// NewRedis creates a Redis replicator.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	r := &Redis{
		client:      client,
		logger:      logging.NewLogger("replication"),
		exchangeTTL: DefaultExchangeTTL,
		entryTTL:    cache.InvalidationHorizon,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReplicateExchange stores the exchange state, cached object included, until
// the exchange TTL passes.
func (r *Redis) ReplicateExchange(ctx context.Context, state ExchangeState) error {
	if state.ExchangeID == "" {
		return fmt.Errorf("%w: exchange id is empty", ErrReplicationFailure)
	}

	data, err := json.Marshal(state)
	if err != nil {
		ReplicationErrors.WithLabelValues("exchange").Inc()
		return fmt.Errorf("%w: marshal exchange state: %v", ErrReplicationFailure, err)
	}

	if err := r.client.Set(ctx, ExchangeKey(state.ExchangeID), data, r.exchangeTTL).Err(); err != nil {
		ReplicationErrors.WithLabelValues("exchange").Inc()
		return fmt.Errorf("%w: redis set: %v", ErrReplicationFailure, err)
	}

	r.logger.Debug().
		Str("exchange_id", state.ExchangeID).
		Str("cache_id", state.CacheID).
		Str("fingerprint", state.RequestHash).
		Msg("Exchange state replicated")
	return nil
}

// ReplicateEntry stores an entry snapshot under its cache id and fingerprint.
func (r *Redis) ReplicateEntry(ctx context.Context, cacheID string, entry cache.Snapshot) error {
	if entry.Fingerprint == "" {
		return fmt.Errorf("%w: entry fingerprint is empty", ErrReplicationFailure)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		ReplicationErrors.WithLabelValues("entry").Inc()
		return fmt.Errorf("%w: marshal entry: %v", ErrReplicationFailure, err)
	}

	if err := r.client.Set(ctx, EntryKey(cacheID, entry.Fingerprint), data, r.entryTTL).Err(); err != nil {
		ReplicationErrors.WithLabelValues("entry").Inc()
		return fmt.Errorf("%w: redis set: %v", ErrReplicationFailure, err)
	}

	r.logger.Debug().
		Str("cache_id", cacheID).
		Str("fingerprint", entry.Fingerprint).
		Bool("has_payload", entry.Payload != nil).
		Msg("Cache entry replicated")
	return nil
}

// LoadExchange returns replicated exchange state.
func (r *Redis) LoadExchange(ctx context.Context, exchangeID string) (*ExchangeState, error) {
	data, err := r.client.Get(ctx, ExchangeKey(exchangeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		ReplicationErrors.WithLabelValues("load_exchange").Inc()
		return nil, fmt.Errorf("%w: redis get: %v", ErrReplicationFailure, err)
	}

	var state ExchangeState
	if err := json.Unmarshal(data, &state); err != nil {
		ReplicationErrors.WithLabelValues("load_exchange").Inc()
		return nil, fmt.Errorf("%w: unmarshal exchange state: %v", ErrReplicationFailure, err)
	}
	return &state, nil
}

// LoadEntry returns a replicated entry snapshot.
func (r *Redis) LoadEntry(ctx context.Context, cacheID, fingerprint string) (*cache.Snapshot, error) {
	data, err := r.client.Get(ctx, EntryKey(cacheID, fingerprint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		ReplicationErrors.WithLabelValues("load_entry").Inc()
		return nil, fmt.Errorf("%w: redis get: %v", ErrReplicationFailure, err)
	}

	var s cache.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		ReplicationErrors.WithLabelValues("load_entry").Inc()
		return nil, fmt.Errorf("%w: unmarshal entry: %v", ErrReplicationFailure, err)
	}
	return &s, nil
}

// Loader returns a cache.Loader that restores replicated entries and falls
// back to an empty entry with ttlSeconds when none exists or Redis fails.
func (r *Redis) Loader(cacheID string, ttlSeconds int64, clock cache.Clock) cache.Loader {
	empty := cache.EmptyLoader(ttlSeconds, clock)
	return func(ctx context.Context, fingerprint string) (*cache.CacheEntry, error) {
		s, err := r.LoadEntry(ctx, cacheID, fingerprint)
		switch {
		case err == nil:
			ReplicatedLoads.WithLabelValues(cacheID).Inc()
			return cache.RestoreEntry(*s, clock), nil
		case !errors.Is(err, ErrNotFound):
			r.logger.Warn().
				Err(err).
				Str("cache_id", cacheID).
				Str("fingerprint", fingerprint).
				Msg("Failed to load replicated entry, starting empty")
		}
		return empty(ctx, fingerprint)
	}
}
