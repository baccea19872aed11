// Package metrics provides Prometheus metrics for the contract server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contractvault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Storage metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contractvault_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractvault_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	storageFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractvault_storage_fallbacks_total",
			Help: "Writes that fell through an unreachable backend",
		},
		[]string{"from"},
	)

	storageBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contractvault_storage_bytes_written_total",
			Help: "Total bytes written to storage backends",
		},
	)

	cleanupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contractvault_storage_cleanup_failures_total",
			Help: "Physical deletes that failed and left orphan bytes",
		},
	)

	sweepRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contractvault_sweep_removed_total",
			Help: "Orphan objects removed by the reconciliation sweep",
		},
	)

	// Version metrics
	versionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractvault_versions_created_total",
			Help: "Version creation attempts by outcome",
		},
		[]string{"result"},
	)

	extractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contractvault_extraction_duration_seconds",
			Help:    "Text extraction duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractvault_auth_attempts_total",
			Help: "Bearer token verifications by outcome",
		},
		[]string{"result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contractvault_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contractvault_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStorageOperation records a backend operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordStorageFallback records a write that skipped an unreachable backend.
func RecordStorageFallback(from string) {
	storageFallbacksTotal.WithLabelValues(from).Inc()
}

// RecordBytesWritten adds to the written bytes counter.
func RecordBytesWritten(n int64) {
	storageBytesWritten.Add(float64(n))
}

// RecordCleanupFailure counts a swallowed physical delete failure.
func RecordCleanupFailure() {
	cleanupFailuresTotal.Inc()
}

// RecordSweepRemoved counts orphans removed by a sweep.
func RecordSweepRemoved(n int) {
	sweepRemovedTotal.Add(float64(n))
}

// RecordVersionCreate records the outcome of a version creation.
func RecordVersionCreate(result string) {
	versionsCreatedTotal.WithLabelValues(result).Inc()
}

// RecordExtraction records text extraction latency.
func RecordExtraction(duration time.Duration) {
	extractionDuration.Observe(duration.Seconds())
}

// RecordAuthAttempt records a token verification.
func RecordAuthAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the open connections gauge.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records HTTP metrics. Routes are labelled by their chi pattern
// so that IDs in the path do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		RecordHTTPRequest(r.Method, route, rw.status, time.Since(start))
	})
}
