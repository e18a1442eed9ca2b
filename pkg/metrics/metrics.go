// Package metrics holds the Prometheus collectors of the ingestion and query
// pipelines and exposes them over HTTP. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ami_rag"

// Metrics is a set of collectors bound to their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	DocsStored    *prometheus.CounterVec
	ChunksSkipped *prometheus.CounterVec
	IngestRuns    *prometheus.CounterVec
	UpsertErrors  *prometheus.CounterVec
	EmbedCalls    *prometheus.CounterVec
	Queries       *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
}

// New creates a registry with the Go and process collectors plus the
// pipeline collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		DocsStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_stored_total",
			Help:      "Documents written to the vector store.",
		}, []string{"collection"}),
		ChunksSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_skipped_total",
			Help:      "Chunks skipped because their content hash was already stored.",
		}, []string{"collection"}),
		IngestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Ingestion runs by final state.",
		}, []string{"state"}),
		UpsertErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upsert_errors_total",
			Help:      "Failed batch upserts.",
		}, []string{"collection"}),
		EmbedCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_calls_total",
			Help:      "Embedding requests by mode.",
		}, []string{"mode"}),
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Similarity queries by outcome.",
		}, []string{"outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) Stored(collection string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DocsStored.WithLabelValues(collection).Add(float64(n))
}

func (m *Metrics) Skipped(collection string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksSkipped.WithLabelValues(collection).Add(float64(n))
}

// IngestDone counts a finished run under its final state.
func (m *Metrics) IngestDone(state string) {
	if m == nil {
		return
	}
	m.IngestRuns.WithLabelValues(state).Inc()
}

func (m *Metrics) UpsertFailed(collection string) {
	if m == nil {
		return
	}
	m.UpsertErrors.WithLabelValues(collection).Inc()
}

func (m *Metrics) Embedded(mode string) {
	if m == nil {
		return
	}
	m.EmbedCalls.WithLabelValues(mode).Inc()
}

func (m *Metrics) Queried(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.Queries.WithLabelValues(outcome).Inc()
}

// ObserveStage records the time elapsed since start for stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Middleware counts requests and their latency per route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
