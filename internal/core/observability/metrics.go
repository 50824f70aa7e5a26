// Package observability exposes Prometheus metrics for the viewer core.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	layerFetchSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "layer_fetch_duration_seconds",
			Help:    "Latency of layer fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"source", "result"},
	)

	byteCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_byte_cache_results_total",
			Help: "Layer byte cache results by outcome.",
		},
		[]string{"outcome"},
	)

	staleDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stale_tenant_responses_dropped_total",
			Help: "Fetch results discarded because their tenant was superseded.",
		},
	)

	classificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "point_classifications_total",
			Help: "Point classification queries by kind and outcome.",
		},
		[]string{"kind", "matched"},
	)

	invalidationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Layer invalidation events by processing result.",
		},
		[]string{"result"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveLayerFetch records one layer fetch. Source is "origin" or
// "byte_cache"; result is "ok" or "error".
func ObserveLayerFetch(source, result string, durationSeconds float64) {
	layerFetchSeconds.WithLabelValues(source, result).Observe(durationSeconds)
}

func IncByteCacheHit()  { byteCacheResults.WithLabelValues("hit").Inc() }
func IncByteCacheMiss() { byteCacheResults.WithLabelValues("miss").Inc() }

func IncStaleDrop() { staleDropsTotal.Inc() }

func ObserveClassification(kind string, matched bool) {
	classificationsTotal.WithLabelValues(kind, strconv.FormatBool(matched)).Inc()
}

func IncInvalidationEvent(result string) {
	invalidationEventsTotal.WithLabelValues(result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
