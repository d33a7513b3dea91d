// Package metrics holds the Prometheus collectors for the editor service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmgeo",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "farmgeo",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method"})

	// Editor metrics
	FieldWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmgeo",
		Subsystem: "editor",
		Name:      "field_writes_total",
		Help:      "Geo field values written back to their document",
	}, []string{"kind"})

	SuppressedWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmgeo",
		Subsystem: "editor",
		Name:      "suppressed_writes_total",
		Help:      "Writes skipped because the document already held the value",
	}, []string{"kind"})

	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "farmgeo",
		Subsystem: "editor",
		Name:      "active_sessions",
		Help:      "Editor sessions currently mounted",
	}, []string{"kind"})

	MapLoadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmgeo",
		Subsystem: "map",
		Name:      "load_failures_total",
		Help:      "Map library loads that failed",
	}, []string{"vendor"})

	GeolocationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmgeo",
		Subsystem: "geolocation",
		Name:      "failures_total",
		Help:      "Device location requests that failed",
	}, []string{"code"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the Prometheus /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
