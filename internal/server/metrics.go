package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crayfishmap",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crayfishmap",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
	}, []string{"method", "route"})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crayfishmap",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"layer"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crayfishmap",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"layer"})

	mapBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "crayfishmap",
		Subsystem: "atlas",
		Name:      "build_duration_seconds",
		Help:      "Time spent assembling a species map",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	densityCells = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "crayfishmap",
		Subsystem: "atlas",
		Name:      "density_cells",
		Help:      "Number of occupied grid cells per assembled map",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	invalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crayfishmap",
		Subsystem: "catalog",
		Name:      "invalidations_total",
		Help:      "Species overlay changes that invalidated cached maps",
	})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMetrics records request count and latency per route pattern.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// metricsHandler serves the Prometheus registry.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
