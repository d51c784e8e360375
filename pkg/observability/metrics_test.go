package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordDecision("app_auth", "reject", "IpNotAllowed", time.Millisecond)
	m.RecordCacheLookup("hit")
	m.RecordCacheLookup("hit")
	m.RecordBackendResolve("found", 2*time.Millisecond)
	m.RecordBackendAlert("cache")
	m.SetCacheEntries(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthDecisionsTotal.WithLabelValues("app_auth", "reject", "IpNotAllowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendResolvesTotal.WithLabelValues("found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendAlertsTotal.WithLabelValues("cache")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CacheEntries))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordDecision("x", "y", "z", 0)
	m.RecordCacheLookup("hit")
	m.RecordCacheRefresh("miss", "found")
	m.SetCacheEntries(1)
	m.RecordBackendResolve("found", 0)
	m.RecordBackendAlert("cache")
	m.RecordSharedCacheOp("get", "hit")
	m.RecordDocumentReload("file", "ok")
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/1", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "401")))

	w := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "appgate_http_requests_total")
}
