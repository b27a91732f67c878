package images

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	conversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_image_conversions_total",
			Help: "Successful image encodings by delivered format",
		},
		[]string{"format"},
	)

	conversionFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_image_conversion_fallbacks_total",
			Help: "Encoder failures that pushed the cascade to the next strategy",
		},
		[]string{"format"},
	)

	variantCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_image_variant_cache_hits_total",
			Help: "Variant requests served from the store",
		},
		[]string{"variant"},
	)

	variantCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_image_variant_cache_misses_total",
			Help: "Variant requests that required processing",
		},
		[]string{"variant"},
	)

	processDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listings_image_process_duration_seconds",
			Help:    "End-to-end variant processing time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"variant"},
	)
)
