package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the scoring and tracking hot paths. Registered on the
// default registry so the /metrics endpoint picks them up without
// extra wiring.
var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delta_cache_hits_total",
		Help: "Bucket reads served from a fresh cache entry.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delta_cache_misses_total",
		Help: "Bucket reads that required a rebuild (absent, stale, or unreadable entry).",
	})

	StaleServes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delta_cache_stale_serves_total",
		Help: "Bucket reads that opted in to a stale entry instead of waiting for a rebuild.",
	})

	RebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "delta_bucket_rebuild_duration_seconds",
		Help:    "Time spent assembling and storing one customer bucket.",
		Buckets: prometheus.DefBuckets,
	})

	ActionsTracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_actions_tracked_total",
		Help: "Engagement actions committed, by action type.",
	}, []string{"action"})

	DuplicateDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delta_duplicate_deliveries_total",
		Help: "Engagement deliveries ignored because their id was already committed.",
	})
)
