package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProxyRequests tracks requests by cache id and cache status
	ProxyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_proxy_requests_total",
			Help: "Total number of proxied requests",
		},
		[]string{"cache_id", "cache_status"},
	)

	// ProxyDuration tracks request latency by cache id and cache status
	ProxyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exchange_cache_proxy_request_duration_seconds",
			Help:    "Proxied request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cache_id", "cache_status"},
	)

	// UpstreamErrors tracks failed upstream round trips
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_upstream_errors_total",
			Help: "Total number of failed upstream requests",
		},
		[]string{"cache_id"},
	)
)

var (
	// UpstreamRetries tracks retried upstream attempts by error class
	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_upstream_retries_total",
			Help: "Total number of upstream retry attempts by error class",
		},
		[]string{"cache_id", "error_class"},
	)

	// UpstreamRetryBackoff observes backoff durations before retries
	UpstreamRetryBackoff = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exchange_cache_upstream_retry_backoff_seconds",
			Help:    "Backoff duration before upstream retries by error class",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"cache_id", "error_class"},
	)

	// UpstreamRetryExhausted tracks requests that used every attempt
	UpstreamRetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_upstream_retry_exhausted_total",
			Help: "Total number of upstream requests that exhausted their retry attempts",
		},
		[]string{"cache_id", "error_class"},
	)
)
