// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service collectors. Construct one per process with
// New and pass it to the components that record into it.
type Metrics struct {
	registry *prometheus.Registry

	PapersDiscovered prometheus.Counter
	PapersStored     prometheus.Counter
	PapersSkipped    *prometheus.CounterVec
	PapersFailed     *prometheus.CounterVec
	PapersEmbedded   prometheus.Counter
	DownloadBytes    prometheus.Counter

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		PapersDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_papers_discovered_total",
			Help: "Total number of paper candidates discovered.",
		}),
		PapersStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_papers_stored_total",
			Help: "Total number of papers downloaded and stored.",
		}),
		PapersSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_papers_skipped_total",
			Help: "Total number of papers skipped, labeled by reason.",
		}, []string{"reason"}),
		PapersFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_papers_failed_total",
			Help: "Total number of papers that failed, labeled by stage.",
		}, []string{"stage"}),
		PapersEmbedded: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_papers_embedded_total",
			Help: "Total number of papers that received an embedding vector.",
		}),
		DownloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_download_bytes_total",
			Help: "Total number of PDF bytes downloaded.",
		}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument wraps an HTTP handler with request counting and latency
// observation under the given route label.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
