// Package metrics owns the service's private Prometheus registry: HTTP request
// metrics plus counters for identifier allocation, history recording and
// tenant deletion. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection
type Metrics struct {
	reqTotal   *prometheus.CounterVec
	reqLatency *prometheus.HistogramVec

	identifiersAllocated *prometheus.CounterVec
	identifierConflicts  *prometheus.CounterVec
	historyEntries       *prometheus.CounterVec
	deletions            *prometheus.CounterVec
	deletedRows          *prometheus.CounterVec
	deletionRetries      prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with a private Prometheus registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		reqTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		reqLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		identifiersAllocated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_identifiers_allocated_total",
				Help: "Identifiers assigned to assets, by kind and numbering mode",
			},
			[]string{"kind", "mode"},
		),
		identifierConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_identifier_conflicts_total",
				Help: "Identifier assignments rejected as duplicates or lost to a concurrent insert",
			},
			[]string{"kind", "reason"},
		),
		historyEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_history_entries_total",
				Help: "History entries written, by asset kind and field",
			},
			[]string{"asset_kind", "field"},
		),
		deletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_tenant_deletions_total",
				Help: "Tenant deletions by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		deletedRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_tenant_deleted_rows_total",
				Help: "Rows removed by tenant deletions, by table",
			},
			[]string{"table"},
		),
		deletionRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "inventory_tenant_deletion_retries_total",
				Help: "Tenant deletion attempts retried after a transient conflict",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.reqTotal, m.reqLatency,
		m.identifiersAllocated, m.identifierConflicts, m.historyEntries,
		m.deletions, m.deletedRows, m.deletionRetries,
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// IdentifierAllocated counts an identifier assignment; mode is "auto" or "explicit".
func (m *Metrics) IdentifierAllocated(kind, mode string) {
	if m == nil {
		return
	}
	m.identifiersAllocated.WithLabelValues(kind, mode).Inc()
}

// IdentifierConflict counts a rejected assignment; reason is "duplicate" or "race".
func (m *Metrics) IdentifierConflict(kind, reason string) {
	if m == nil {
		return
	}
	m.identifierConflicts.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) HistoryEntry(assetKind, field string) {
	if m == nil {
		return
	}
	m.historyEntries.WithLabelValues(assetKind, field).Inc()
}

// TenantDeletion counts a finished deletion; outcome is "ok" or an error class.
func (m *Metrics) TenantDeletion(mode, outcome string) {
	if m == nil {
		return
	}
	m.deletions.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) DeletedRows(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.deletedRows.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) DeletionRetry() {
	if m == nil {
		return
	}
	m.deletionRetries.Inc()
}

// Middleware returns a Chi middleware that collects metrics
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create a response writer that captures the status code
			rw := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

			next.ServeHTTP(rw, r)

			// Get the path (use Chi's route pattern if available)
			path := r.URL.Path
			if chiCtx := chi.RouteContext(r.Context()); chiCtx != nil && len(chiCtx.RoutePatterns) > 0 {
				path = chiCtx.RoutePatterns[len(chiCtx.RoutePatterns)-1]
			}

			status := http.StatusText(rw.code)
			m.reqTotal.WithLabelValues(r.Method, path, status).Inc()
			m.reqLatency.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler returns an http.Handler that serves Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the HTTP status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	return sr.ResponseWriter.Write(b)
}
