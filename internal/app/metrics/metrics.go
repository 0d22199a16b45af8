// Package metrics owns the Prometheus collectors of the AJAX layer.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ajax_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ajax_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ajax_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	modelOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ajax_layer",
			Subsystem: "endpoint",
			Name:      "model_operations_total",
			Help:      "Total number of endpoint operations by model, method and status code.",
		},
		[]string{"model", "method", "status"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ajax_layer",
			Subsystem: "endpoint",
			Name:      "operation_duration_seconds",
			Help:      "Duration of endpoint operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"model", "method"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		modelOperations,
		operationDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// TrackInFlight marks a request as started and returns the func ending it.
func TrackInFlight() func() {
	httpInFlight.Inc()
	return httpInFlight.Dec
}

// RecordHTTPRequest records one served request. path should be a route
// template; raw paths are canonicalised first.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if !strings.Contains(path, "{") {
		path = canonicalPath(path)
	}
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Unknown labels operations whose model or method did not resolve.
const Unknown = "unknown"

// RecordOperation records one endpoint operation. Callers pass only resolved
// names; anything taken from an unmatched URL must be Unknown.
func RecordOperation(model, method string, status int, duration time.Duration) {
	if model == "" {
		model = Unknown
	}
	if method == "" {
		method = Unknown
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	modelOperations.WithLabelValues(strings.ToLower(model), method, strconv.Itoa(status)).Inc()
	operationDuration.WithLabelValues(strings.ToLower(model), method).Observe(duration.Seconds())
}

// canonicalPath replaces numeric segments so record ids do not explode the
// label space.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = ":pk"
		}
	}
	return "/" + strings.Join(parts, "/")
}
