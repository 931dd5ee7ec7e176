package replication

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReplicationErrors tracks failed replication operations
	ReplicationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_replication_errors_total",
			Help: "Total number of failed replication operations",
		},
		[]string{"operation"}, // "exchange", "entry", "load_exchange", "load_entry"
	)

	// ReplicatedLoads tracks cache entries restored from replicated state
	ReplicatedLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_cache_replicated_loads_total",
			Help: "Total number of cache entries restored from replicated state",
		},
		[]string{"cache_id"},
	)
)
