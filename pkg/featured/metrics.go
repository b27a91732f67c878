package featured

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	togglesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_featured_toggles_total",
			Help: "Featured set toggles by outcome",
		},
		[]string{"action"},
	)

	backfillScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listings_featured_backfill_scheduled_total",
			Help: "Backfill jobs armed after the set fell below its floor",
		},
	)

	backfillExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_featured_backfill_executions_total",
			Help: "Backfill execution passes by outcome",
		},
		[]string{"outcome"},
	)

	readCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listings_featured_read_cache_hits_total",
			Help: "Featured id reads served from the derived read-cache",
		},
	)

	readCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listings_featured_read_cache_misses_total",
			Help: "Featured id reads that fell back to the source of truth",
		},
	)
)
