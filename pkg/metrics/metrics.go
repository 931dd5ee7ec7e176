// Package metrics exposes the Prometheus registry of the exchange cache.
// All metrics are defined in their respective packages (cache, replication,
// proxy) via promauto to avoid circular dependencies.
//
// This package provides the scrape handler and a reference of all metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the exchange cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the scrape handler for Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - exchange_cache_hits_total{cache_id} (Counter): Requests answered from cache
//   - exchange_cache_misses_total{cache_id} (Counter): Requests forwarded without a payload
//   - exchange_cache_stale_total{cache_id} (Counter): Expired entries reincarnated on lookup
//   - exchange_cache_stored_total{cache_id} (Counter): Responses stored
//   - exchange_cache_rejected_total{cache_id} (Counter): Responses with a non-cacheable status
//   - exchange_cache_size_limit_exceeded_total{cache_id} (Counter): Responses over maxMessageSize
//   - exchange_cache_payload_bytes{cache_id} (Histogram): Stored payload sizes
//   - exchange_cache_entries{cache_id} (Gauge): Entries held in memory
//   - exchange_cache_evictions_total{cache_id, reason} (Counter): Evictions ("size", "horizon")
//
// Replication Metrics (pkg/replication):
//   - exchange_cache_replication_errors_total{operation} (Counter): Failed Redis operations
//   - exchange_cache_replicated_loads_total{cache_id} (Counter): Entries restored from Redis
//
// Proxy Metrics (internal/proxy):
//   - exchange_cache_proxy_requests_total{cache_id, cache_status} (Counter): Requests by HIT or MISS
//   - exchange_cache_proxy_request_duration_seconds{cache_id, cache_status} (Histogram): Request latency
//   - exchange_cache_upstream_errors_total{cache_id} (Counter): Failed upstream round trips
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(exchange_cache_hits_total[5m])) /
//   (sum(rate(exchange_cache_hits_total[5m])) + sum(rate(exchange_cache_misses_total[5m])))
//
//   # Rejected responses per pipeline
//   rate(exchange_cache_rejected_total[5m])
//
//   # Replication health
//   rate(exchange_cache_replication_errors_total[5m]) > 0
//
//   # P95 latency of cache hits
//   histogram_quantile(0.95, rate(exchange_cache_proxy_request_duration_seconds_bucket{cache_status="HIT"}[5m]))
