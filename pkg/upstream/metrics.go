package upstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15},
	}, []string{"endpoint"})

	conditionalRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upstream_conditional_requests_total",
		Help: "Total conditional (If-None-Match) requests sent upstream",
	})

	notModifiedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upstream_304_responses_total",
		Help: "Total 304 Not Modified responses from upstream",
	})
)
