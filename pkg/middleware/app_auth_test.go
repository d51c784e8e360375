package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/appgate/pkg/cache"
	"github.com/platinummonkey/appgate/pkg/contextkeys"
	"github.com/platinummonkey/appgate/pkg/gateway"
	"github.com/platinummonkey/appgate/pkg/observability"
	"github.com/platinummonkey/appgate/pkg/policy"
	"github.com/platinummonkey/appgate/pkg/signature"
	"github.com/platinummonkey/appgate/pkg/storage/memory"
)

const acmeSecret = "acme-secret"

func acmePolicy() *policy.AccessPolicy {
	return policy.NewAccessPolicy(
		policy.ApplicationCredential{AppKey: "acme", AppSecret: acmeSecret, Status: policy.StatusOnline},
		[]policy.ServiceGrant{{
			ServiceCode:      "orders",
			AllowedCallerIPs: []string{"10.0.0.0/8"},
			Status:           policy.StatusOnline,
		}},
	)
}

// countingStore counts backend resolves
type countingStore struct {
	calls atomic.Int32
	next  policy.Store
}

func (s *countingStore) Resolve(ctx context.Context, appKey string) (*policy.AccessPolicy, error) {
	s.calls.Add(1)
	return s.next.Resolve(ctx, appKey)
}

type fixture struct {
	store    *countingStore
	verifier *signature.Verifier
	stage    *AppAuthStage
	pipeline *gateway.Pipeline
	metrics  *observability.Metrics
}

func newFixture(t *testing.T, next policy.Store, cfg AppAuthConfig, opts ...AppAuthOption) *fixture {
	t.Helper()
	verifier, err := signature.NewVerifier(signature.Config{})
	require.NoError(t, err)

	store := &countingStore{next: next}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	opts = append(opts, WithAppAuthMetrics(metrics))
	stage := NewAppAuthStage(cfg, cache.New(store, cache.DefaultConfig()), verifier, opts...)

	return &fixture{
		store:    store,
		verifier: verifier,
		stage:    stage,
		metrics:  metrics,
		pipeline: gateway.NewPipeline([]gateway.Ordered{
			{Order: DefaultRequestIDOrder, Stage: NewRequestIDStage()},
			{Order: DefaultAppAuthOrder, Stage: stage},
		}),
	}
}

func (f *fixture) signedRequest(path string, params url.Values, remoteIP string) *http.Request {
	params.Set(signature.DefaultSignatureParam, f.verifier.Sign(acmeSecret, signature.ParamsFromValues(params)))
	req := httptest.NewRequest(http.MethodGet, path+"?"+params.Encode(), nil)
	req.RemoteAddr = remoteIP + ":40000"
	return req
}

func orderParams() url.Values {
	return url.Values{"appKey": {"acme"}, "orderId": {"42"}}
}

func serve(p *gateway.Pipeline, req *http.Request) (*httptest.ResponseRecorder, bool) {
	called := false
	h := p.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, called
}

func TestAppAuth_AllowsGrantedCaller(t *testing.T) {
	f := newFixture(t, memory.NewStore(acmePolicy()), DefaultAppAuthConfig())

	req := f.signedRequest("/orders/v1/list", orderParams(), "10.1.2.3")
	out := f.stage.Authenticate(req)
	require.True(t, out.Continue)

	p, ok := contextkeys.GetPolicy(out.Request.Context())
	require.True(t, ok)
	assert.Equal(t, "acme", p.AppKey())
	assert.Equal(t, "orders", contextkeys.GetService(out.Request.Context()))

	rec, called := serve(f.pipeline, f.signedRequest("/orders/v1/list", orderParams(), "10.1.2.3"))
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppAuth_CallerIPOutsideAllowlist(t *testing.T) {
	f := newFixture(t, memory.NewStore(acmePolicy()), DefaultAppAuthConfig())

	out := f.stage.Authenticate(f.signedRequest("/orders", orderParams(), "203.0.113.5"))
	assert.False(t, out.Continue)
	assert.Equal(t, policy.ReasonIPNotAllowed, out.Reason)

	rec, called := serve(f.pipeline, f.signedRequest("/orders", orderParams(), "203.0.113.5"))
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestAppAuth_TamperedParameter(t *testing.T) {
	f := newFixture(t, memory.NewStore(acmePolicy()), DefaultAppAuthConfig())

	req := f.signedRequest("/orders", orderParams(), "10.1.2.3")
	q := req.URL.Query()
	q.Set("orderId", "43")
	req.URL.RawQuery = q.Encode()

	// The policy would also fail the IP rule; the signature must decide first
	req.RemoteAddr = "203.0.113.5:40000"
	out := f.stage.Authenticate(req)
	assert.False(t, out.Continue)
	assert.Equal(t, policy.ReasonInvalidSignature, out.Reason)
}

func TestAppAuth_RepeatedParameterRejected(t *testing.T) {
	f := newFixture(t, memory.NewStore(acmePolicy()), DefaultAppAuthConfig())

	req := f.signedRequest("/orders", orderParams(), "10.1.2.3")
	require.True(t, f.stage.Authenticate(req).Continue)

	// A second value for a signed key is not covered by the signature
	polluted := f.signedRequest("/orders", orderParams(), "10.1.2.3")
	polluted.URL.RawQuery += "&orderId=9999"
	out := f.stage.Authenticate(polluted)
	assert.False(t, out.Continue)
	assert.Equal(t, policy.ReasonInvalidSignature, out.Reason)

	rec, called := serve(f.pipeline, polluted)
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAppAuth_MalformedQueryRejected(t *testing.T) {
	f := newFixture(t, memory.NewStore(acmePolicy()), DefaultAppAuthConfig())

	tests := []struct {
		name   string
		suffix string
	}{
		{name: "bad escape", suffix: "&admin=%zz"},
		{name: "semicolon separator", suffix: "&x=1;y=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.signedRequest("/orders", orderParams(), "10.1.2.3")
			req.URL.RawQuery += tt.suffix
			out := f.stage.Authenticate(req)
			assert.False(t, out.Continue)
			assert.Equal(t, policy.ReasonInvalidSignature, out.Reason)
		})
	}
	assert.Equal(t, int32(0), f.store.calls.Load())
}

func TestAppAuth_UnknownAppKeyIsNegativelyCached(t *testing.T) {
	f := newFixture(t, memory.NewStore(acmePolicy()), DefaultAppAuthConfig())

	params := url.Values{"appKey": {"ghost"}, "sign": {"00"}}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/orders?"+params.Encode(), nil)
		rec, called := serve(f.pipeline, req)
		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	assert.Equal(t, int32(1), f.store.calls.Load())

	out := f.stage.Authenticate(httptest.NewRequest(http.MethodGet, "/orders?"+params.Encode(), nil))
	assert.Equal(t, policy.ReasonCredentialNotFound, out.Reason)
	assert.Equal(t, int32(1), f.store.calls.Load())
}

func TestAppAuth_MissingCredentials(t *testing.T) {
	f := newFixture(t, memory.NewStore(acmePolicy()), DefaultAppAuthConfig())

	tests := []struct {
		name  string
		query string
	}{
		{"no parameters", ""},
		{"no signature", "appKey=acme"},
		{"no app key", "sign=abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := f.stage.Authenticate(httptest.NewRequest(http.MethodGet, "/orders?"+tt.query, nil))
			assert.False(t, out.Continue)
			assert.Equal(t, policy.ReasonMissingCredentials, out.Reason)
		})
	}
	assert.Equal(t, int32(0), f.store.calls.Load())
}

func TestAppAuth_StatusRules(t *testing.T) {
	offlineApp := policy.NewAccessPolicy(
		policy.ApplicationCredential{AppKey: "acme", AppSecret: acmeSecret, Status: policy.StatusOffline},
		acmePolicy().Grants,
	)
	offlineGrant := policy.NewAccessPolicy(
		policy.ApplicationCredential{AppKey: "acme", AppSecret: acmeSecret, Status: policy.StatusOnline},
		[]policy.ServiceGrant{{ServiceCode: "orders", AllowedCallerIPs: []string{"10.0.0.0/8"}, Status: policy.StatusOffline}},
	)

	tests := []struct {
		name   string
		policy *policy.AccessPolicy
		path   string
		want   policy.Reason
	}{
		{"application offline", offlineApp, "/orders", policy.ReasonApplicationOffline},
		{"service not granted", acmePolicy(), "/billing", policy.ReasonServiceNotGranted},
		{"grant offline", offlineGrant, "/orders", policy.ReasonServiceOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, memory.NewStore(tt.policy), DefaultAppAuthConfig())
			out := f.stage.Authenticate(f.signedRequest(tt.path, orderParams(), "10.1.2.3"))
			assert.False(t, out.Continue)
			assert.Equal(t, tt.want, out.Reason)
		})
	}
}

func TestAppAuth_BackendUnavailableFailsClosed(t *testing.T) {
	down := policy.StoreFunc(func(ctx context.Context, appKey string) (*policy.AccessPolicy, error) {
		return nil, policy.NewBackendError("postgres", "resolve", errors.New("connection refused"))
	})
	f := newFixture(t, down, DefaultAppAuthConfig())

	out := f.stage.Authenticate(f.signedRequest("/orders", orderParams(), "10.1.2.3"))
	assert.False(t, out.Continue)
	assert.Equal(t, policy.ReasonBackendUnavailable, out.Reason)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.BackendAlertsTotal.WithLabelValues(AppAuthStageName)))
}

func TestAppAuth_CancelledRequest(t *testing.T) {
	f := newFixture(t, memory.NewStore(acmePolicy()), DefaultAppAuthConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := f.signedRequest("/orders", orderParams(), "10.1.2.3").WithContext(ctx)

	out := f.stage.Authenticate(req)
	assert.False(t, out.Continue)
	assert.Equal(t, policy.ReasonRequestCancelled, out.Reason)
	assert.Equal(t, int32(0), f.store.calls.Load())
}

func TestAppAuth_HeaderMode(t *testing.T) {
	cfg := DefaultAppAuthConfig()
	cfg.ParamSource = ParamSourceHeader
	f := newFixture(t, memory.NewStore(acmePolicy()), cfg)

	sig := f.verifier.Sign(acmeSecret, signature.Params{"appKey": "acme", "orderId": "42"})
	req := httptest.NewRequest(http.MethodGet, "/orders?orderId=42", nil)
	req.RemoteAddr = "10.1.2.3:40000"
	req.Header.Set("X-App-Key", "acme")
	req.Header.Set("X-Signature", sig)

	out := f.stage.Authenticate(req)
	assert.True(t, out.Continue, "reason: %s", out.Reason)

	// Headers are ignored in query mode
	q := newFixture(t, memory.NewStore(acmePolicy()), DefaultAppAuthConfig())
	out = q.stage.Authenticate(req)
	assert.Equal(t, policy.ReasonMissingCredentials, out.Reason)
}

func TestAppAuth_HeaderModeCollision(t *testing.T) {
	cfg := DefaultAppAuthConfig()
	cfg.ParamSource = ParamSourceHeader
	f := newFixture(t, memory.NewStore(acmePolicy()), cfg)

	sig := f.verifier.Sign(acmeSecret, signature.Params{"appKey": "acme", "orderId": "42"})

	dupQuery := httptest.NewRequest(http.MethodGet, "/orders?orderId=42&appKey=other", nil)
	dupQuery.RemoteAddr = "10.1.2.3:40000"
	dupQuery.Header.Set("X-App-Key", "acme")
	dupQuery.Header.Set("X-Signature", sig)
	assert.Equal(t, policy.ReasonInvalidSignature, f.stage.Authenticate(dupQuery).Reason)

	dupHeader := httptest.NewRequest(http.MethodGet, "/orders?orderId=42", nil)
	dupHeader.RemoteAddr = "10.1.2.3:40000"
	dupHeader.Header.Add("X-App-Key", "acme")
	dupHeader.Header.Add("X-App-Key", "other")
	dupHeader.Header.Set("X-Signature", sig)
	assert.Equal(t, policy.ReasonInvalidSignature, f.stage.Authenticate(dupHeader).Reason)
}

func TestAppAuth_TrustedForwardedFor(t *testing.T) {
	cfg := DefaultAppAuthConfig()
	cfg.TrustForwardedFor = true
	f := newFixture(t, memory.NewStore(acmePolicy()), cfg)

	req := f.signedRequest("/orders", orderParams(), "192.0.2.1")
	req.Header.Set("X-Forwarded-For", "10.9.9.9, 192.0.2.1")
	assert.True(t, f.stage.Authenticate(req).Continue)

	untrusted := newFixture(t, memory.NewStore(acmePolicy()), DefaultAppAuthConfig())
	req = untrusted.signedRequest("/orders", orderParams(), "192.0.2.1")
	req.Header.Set("X-Forwarded-For", "10.9.9.9")
	assert.Equal(t, policy.ReasonIPNotAllowed, untrusted.stage.Authenticate(req).Reason)
}

func TestAppAuth_ReplayGuard(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	guard := signature.NewReplayGuard(time.Minute, 0, func() time.Time { return now })
	f := newFixture(t, memory.NewStore(acmePolicy()), DefaultAppAuthConfig(), WithReplayGuard(guard))

	params := func(ts time.Time, nonce string) url.Values {
		v := orderParams()
		v.Set("timestamp", strconv.FormatInt(ts.Unix(), 10))
		v.Set("nonce", nonce)
		return v
	}

	assert.True(t, f.stage.Authenticate(f.signedRequest("/orders", params(now, "n-1"), "10.1.2.3")).Continue)

	out := f.stage.Authenticate(f.signedRequest("/orders", params(now, "n-1"), "10.1.2.3"))
	assert.Equal(t, policy.ReasonReplayDetected, out.Reason)

	out = f.stage.Authenticate(f.signedRequest("/orders", params(now.Add(-5*time.Minute), "n-2"), "10.1.2.3"))
	assert.Equal(t, policy.ReasonStaleTimestamp, out.Reason)
}

func TestAppAuth_SkipPaths(t *testing.T) {
	cfg := DefaultAppAuthConfig()
	cfg.SkipPaths = []string{"/public/"}
	f := newFixture(t, memory.NewStore(acmePolicy()), cfg)

	assert.True(t, f.stage.Authenticate(httptest.NewRequest(http.MethodGet, "/public/status", nil)).Continue)
	assert.False(t, f.stage.Authenticate(httptest.NewRequest(http.MethodGet, "/orders", nil)).Continue)
}
