package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mulerift",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mulerift",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "route"},
	)

	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mulerift",
			Subsystem: "engine",
			Name:      "analyses_total",
			Help:      "Synchronous analyses by outcome",
		},
		[]string{"outcome"},
	)

	analysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mulerift",
			Subsystem: "engine",
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of synchronous analyses",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
	)

	degradedRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mulerift",
			Subsystem: "engine",
			Name:      "degraded_runs_total",
			Help:      "Analyses whose cycle enumeration fell back to SCC regions",
		},
	)

	resultCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mulerift",
			Subsystem: "cache",
			Name:      "result_hits_total",
			Help:      "Analyses answered from the result cache",
		},
	)
)
