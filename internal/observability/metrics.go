package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic_gateway"

// Metrics collects gateway metrics on its own registry and implements
// cognito.Recorder
type Metrics struct {
	registry *prometheus.Registry

	keySetRefreshes  *prometheus.CounterVec
	keySetDegraded   prometheus.Gauge
	tokenVerifies    *prometheus.CounterVec
	accessDecisions  *prometheus.CounterVec
	auditEventsTotal *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		keySetRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keyset_refresh_total",
			Help:      "Key set fetches by trigger and result.",
		}, []string{"trigger", "success"}),
		keySetDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keyset_degraded",
			Help:      "1 while the last key set refresh failed and an older snapshot is served.",
		}),
		tokenVerifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verifications_total",
			Help:      "Token verifications by outcome.",
		}, []string{"outcome"}),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Role guard decisions by required role and outcome.",
		}, []string{"required_role", "outcome"}),
		auditEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events by result (written, dropped, failed).",
		}, []string{"result"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.keySetRefreshes,
		m.keySetDegraded,
		m.tokenVerifies,
		m.accessDecisions,
		m.auditEventsTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// KeySetRefreshed counts a key set fetch
func (m *Metrics) KeySetRefreshed(trigger string, success bool) {
	m.keySetRefreshes.WithLabelValues(trigger, strconv.FormatBool(success)).Inc()
}

// KeySetDegraded sets the degraded gauge
func (m *Metrics) KeySetDegraded(degraded bool) {
	if degraded {
		m.keySetDegraded.Set(1)
		return
	}
	m.keySetDegraded.Set(0)
}

// TokenVerified counts a verification outcome
func (m *Metrics) TokenVerified(outcome string) {
	m.tokenVerifies.WithLabelValues(outcome).Inc()
}

// AccessDecided counts a guard decision
func (m *Metrics) AccessDecided(requiredRole, outcome string) {
	m.accessDecisions.WithLabelValues(requiredRole, outcome).Inc()
}

// AuditEvent counts the fate of an audit event
func (m *Metrics) AuditEvent(result string) {
	m.auditEventsTotal.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency labelled by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
