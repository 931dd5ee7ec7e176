package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh hits served from cache by cache id
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_hits_total",
			Help: "Total number of requests answered from cache",
		},
		[]string{"cache_id"},
	)

	// CacheMisses tracks requests forwarded because no payload was cached
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_id"},
	)

	// CacheStale tracks expired entries reincarnated by a Finder
	CacheStale = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_stale_total",
			Help: "Total number of expired entries reincarnated on lookup",
		},
		[]string{"cache_id"},
	)

	// CacheStored tracks responses populated into entries
	CacheStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_stored_total",
			Help: "Total number of responses stored in cache",
		},
		[]string{"cache_id"},
	)

	// CacheRejected tracks responses whose status was not cacheable
	CacheRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_rejected_total",
			Help: "Total number of responses rejected by the accepted status pattern",
		},
		[]string{"cache_id"},
	)

	// SizeLimitExceeded tracks responses too large to cache
	SizeLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_size_limit_exceeded_total",
			Help: "Total number of responses not cached because they exceeded the size limit",
		},
		[]string{"cache_id"},
	)

	// PayloadBytes observes sizes of stored payloads
	PayloadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exchange_cache_payload_bytes",
			Help:    "Size of cached payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"cache_id"},
	)

	// CacheEntries tracks the number of entries held per cache id
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_cache_entries",
			Help: "Current number of entries per cache id",
		},
		[]string{"cache_id"},
	)

	// CacheEvictions tracks evicted entries by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_evictions_total",
			Help: "Total number of evicted entries",
		},
		[]string{"cache_id", "reason"}, // "size", "horizon"
	)
)
