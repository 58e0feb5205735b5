// Package observability exposes the Prometheus registry shared by the HTTP
// server and the transaction service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects application metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transactions    *prometheus.CounterVec
	sideEffects     *prometheus.CounterVec
	mismatches      prometheus.Gauge
}

// NewMetrics initialises the registry and its collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hasledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hasledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hasledger_transactions_total",
		Help: "Recorded transactions by kind and outcome.",
	}, []string{"kind", "outcome"})
	sideEffects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hasledger_side_effect_failures_total",
		Help: "Post-commit side effects deferred to the outbox, by kind.",
	}, []string{"kind"})
	mismatches := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hasledger_ledger_mismatches",
		Help: "Parties whose cached balance disagreed with the ledger at the last reconciliation.",
	})
	registry.MustRegister(requests, duration, transactions, sideEffects, mismatches)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		transactions:    transactions,
		sideEffects:     sideEffects,
		mismatches:      mismatches,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records every HTTP request.
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

// ObserveTransaction counts one transaction outcome (ok, replayed, error).
func (m *Metrics) ObserveTransaction(kind, outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(kind, outcome).Inc()
}

// IncSideEffectFailure counts a cash movement or reversal parked in the outbox.
func (m *Metrics) IncSideEffectFailure(kind string) {
	if m == nil {
		return
	}
	m.sideEffects.WithLabelValues(kind).Inc()
}

// SetLedgerMismatches publishes the result of the last reconciliation.
func (m *Metrics) SetLedgerMismatches(n int) {
	if m == nil {
		return
	}
	m.mismatches.Set(float64(n))
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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
