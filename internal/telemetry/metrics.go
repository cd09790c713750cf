// Package telemetry holds the prometheus collectors exported on /metrics.
// HTTP metrics are labelled with the gin route template instead of the raw
// URL so visitor ids in query strings don't blow up label cardinality
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// GateDenialsTotal counts access gate denials by reason tag
	GateDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_denials_total",
			Help: "Total number of requests denied by the access gate, by reason.",
		},
		[]string{"reason"},
	)

	// SolverRequestsTotal counts upstream solver calls. outcome is one of
	// ok, rejected or error
	SolverRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solver_requests_total",
			Help: "Total number of calls made to the upstream solver, by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
)
