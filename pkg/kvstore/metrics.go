package kvstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// storeHits tracks store hits by backend (redis, memory).
	storeHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_store_hits_total",
			Help: "Total number of key/value store hits",
		},
		[]string{"backend"},
	)

	// storeMisses tracks misses across all backends.
	storeMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listings_store_misses_total",
			Help: "Total number of key/value store misses",
		},
	)

	// storeBytesWritten tracks total bytes written to the store.
	storeBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listings_store_bytes_written_total",
			Help: "Total bytes written to the key/value store",
		},
	)

	// storeErrors tracks store operation errors.
	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_store_errors_total",
			Help: "Total number of key/value store operation errors",
		},
		[]string{"operation"},
	)
)
