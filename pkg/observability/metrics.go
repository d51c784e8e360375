package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Authentication pipeline
	AuthDecisionsTotal *prometheus.CounterVec
	AuthStageDuration  *prometheus.HistogramVec

	// Credential cache
	CacheLookupsTotal *prometheus.CounterVec
	CacheEntries      prometheus.Gauge
	CacheRefreshTotal *prometheus.CounterVec

	// Access policy backends
	BackendResolvesTotal   *prometheus.CounterVec
	BackendResolveDuration *prometheus.HistogramVec
	BackendAlertsTotal     *prometheus.CounterVec

	// Shared redis tier
	SharedCacheOpsTotal *prometheus.CounterVec

	// ConfigMap document reloads
	DocumentReloadsTotal *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuthDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appgate_auth_decisions_total",
				Help: "Authentication pipeline decisions by stage, verdict and reason",
			},
			[]string{"stage", "verdict", "reason"},
		),
		AuthStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appgate_auth_stage_duration_seconds",
				Help:    "Time spent in each authentication stage",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"stage"},
		),

		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appgate_credential_cache_lookups_total",
				Help: "Credential cache lookups by result (hit, negative_hit, miss)",
			},
			[]string{"result"},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appgate_credential_cache_entries",
				Help: "Number of keys tracked by the credential cache",
			},
		),
		CacheRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appgate_credential_cache_refresh_total",
				Help: "Cache refreshes by trigger (miss, ahead, manual) and outcome",
			},
			[]string{"trigger", "outcome"},
		),

		BackendResolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appgate_backend_resolves_total",
				Help: "Access policy backend resolves by result (found, not_found, error)",
			},
			[]string{"result"},
		),
		BackendResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appgate_backend_resolve_duration_seconds",
				Help:    "Access policy backend resolve duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		BackendAlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appgate_backend_unavailable_alerts_total",
				Help: "Requests rejected because the access policy backend was unavailable",
			},
			[]string{"source"},
		),

		SharedCacheOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appgate_shared_cache_operations_total",
				Help: "Redis shared cache operations by op and result",
			},
			[]string{"op", "result"},
		),

		DocumentReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appgate_policy_document_reloads_total",
				Help: "ConfigMap policy document reloads by source and result",
			},
			[]string{"source", "result"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	registry.MustRegister(
		m.AuthDecisionsTotal,
		m.AuthStageDuration,
		m.CacheLookupsTotal,
		m.CacheEntries,
		m.CacheRefreshTotal,
		m.BackendResolvesTotal,
		m.BackendResolveDuration,
		m.BackendAlertsTotal,
		m.SharedCacheOpsTotal,
		m.DocumentReloadsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// RecordDecision counts one stage decision
func (m *Metrics) RecordDecision(stage, verdict, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AuthDecisionsTotal.WithLabelValues(stage, verdict, reason).Inc()
	m.AuthStageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordCacheLookup counts a cache lookup result
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheRefresh counts a cache refresh
func (m *Metrics) RecordCacheRefresh(trigger, outcome string) {
	if m == nil {
		return
	}
	m.CacheRefreshTotal.WithLabelValues(trigger, outcome).Inc()
}

// SetCacheEntries updates the cache size gauge
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// RecordBackendResolve counts a backend resolve and its latency
func (m *Metrics) RecordBackendResolve(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BackendResolvesTotal.WithLabelValues(result).Inc()
	m.BackendResolveDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// RecordBackendAlert counts a fail-closed rejection caused by backend unavailability
func (m *Metrics) RecordBackendAlert(source string) {
	if m == nil {
		return
	}
	m.BackendAlertsTotal.WithLabelValues(source).Inc()
}

// RecordSharedCacheOp counts a redis shared cache operation
func (m *Metrics) RecordSharedCacheOp(op, result string) {
	if m == nil {
		return
	}
	m.SharedCacheOpsTotal.WithLabelValues(op, result).Inc()
}

// RecordDocumentReload counts a policy document reload attempt
func (m *Metrics) RecordDocumentReload(source, result string) {
	if m == nil {
		return
	}
	m.DocumentReloadsTotal.WithLabelValues(source, result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Paths are not used as labels to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
