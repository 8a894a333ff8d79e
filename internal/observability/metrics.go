package observability

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/pizza-pantry/pizza-pantry/internal/jobs"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ledger          *LedgerMetrics
	jobs            *jobmetrics.Metrics
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pantry_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pantry_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(requests, duration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		ledger:          NewLedgerMetrics(registry),
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Ledger returns the ledger observer backed by this registry.
func (m *Metrics) Ledger() *LedgerMetrics {
	if m == nil {
		return nil
	}
	return m.ledger
}

// Jobs returns the background job collectors backed by this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

// LedgerMetrics counts ledger outcomes. It satisfies inventory.Observer.
type LedgerMetrics struct {
	adjustments     *prometheus.CounterVec
	partialFailures *prometheus.CounterVec
	cascadeRetries  *prometheus.CounterVec
	drift           prometheus.Histogram
}

// NewLedgerMetrics registers the ledger collectors.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pantry_adjustments_total",
		Help: "Quantity adjustments by outcome.",
	}, []string{"outcome"})
	partial := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pantry_ledger_partial_failures_total",
		Help: "Item writes whose ledger record could not be persisted.",
	}, []string{"operation"})
	cascades := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pantry_ledger_cascade_retries_total",
		Help: "Ledger cascade deletes that needed a retry, by outcome.",
	}, []string{"outcome"})
	drift := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pantry_ledger_drift_abs",
		Help:    "Absolute difference between item quantity and ledger sum found by reconciliation.",
		Buckets: []float64{0.01, 0.1, 1, 5, 10, 50, 100, 1000},
	})
	registerer.MustRegister(adjustments, partial, cascades, drift)
	return &LedgerMetrics{adjustments: adjustments, partialFailures: partial, cascadeRetries: cascades, drift: drift}
}

// AdjustmentApplied counts an adjustment outcome.
func (l *LedgerMetrics) AdjustmentApplied(outcome string) {
	if l == nil {
		return
	}
	l.adjustments.WithLabelValues(outcome).Inc()
}

// PartialFailure counts a divergence between item and ledger writes.
func (l *LedgerMetrics) PartialFailure(operation string) {
	if l == nil {
		return
	}
	l.partialFailures.WithLabelValues(operation).Inc()
}

// CascadeRetry counts a cascade delete retry.
func (l *LedgerMetrics) CascadeRetry(outcome string) {
	if l == nil {
		return
	}
	l.cascadeRetries.WithLabelValues(outcome).Inc()
}

// LedgerDrift records the magnitude of a detected drift.
func (l *LedgerMetrics) LedgerDrift(drift float64) {
	if l == nil {
		return
	}
	l.drift.Observe(math.Abs(drift))
}
