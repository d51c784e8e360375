package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/appgate/pkg/contextkeys"
	"github.com/platinummonkey/appgate/pkg/evaluator"
	"github.com/platinummonkey/appgate/pkg/gateway"
	"github.com/platinummonkey/appgate/pkg/httputil"
	"github.com/platinummonkey/appgate/pkg/observability"
	"github.com/platinummonkey/appgate/pkg/policy"
	"github.com/platinummonkey/appgate/pkg/signature"
)

// AppAuthStageName names the application signature stage in logs and metrics
const AppAuthStageName = "app_auth"

// DefaultAppAuthOrder runs app auth after the static key check
const DefaultAppAuthOrder = 10

// Parameter sources
const (
	ParamSourceQuery  = "query"
	ParamSourceHeader = "header"
)

// CredentialSource resolves an application's access policy. It is
// satisfied by *cache.CredentialCache.
type CredentialSource interface {
	Get(ctx context.Context, appKey string) (*policy.AccessPolicy, error)
}

// AppAuthConfig configures where signing inputs are read from
type AppAuthConfig struct {
	ParamSource string

	AppKeyParam    string
	TimestampParam string
	NonceParam     string

	AppKeyHeader    string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string

	// TrustForwardedFor takes the caller IP from X-Forwarded-For. Enable
	// only behind a proxy that overwrites the header.
	TrustForwardedFor bool
	// SkipPaths are path prefixes that bypass the stage
	SkipPaths []string
}

// DefaultAppAuthConfig returns the default parameter names
func DefaultAppAuthConfig() AppAuthConfig {
	return AppAuthConfig{
		ParamSource:     ParamSourceQuery,
		AppKeyParam:     "appKey",
		TimestampParam:  "timestamp",
		NonceParam:      "nonce",
		AppKeyHeader:    "X-App-Key",
		SignatureHeader: "X-Signature",
		TimestampHeader: "X-Timestamp",
		NonceHeader:     "X-Nonce",
	}
}

// AppAuthStage authenticates a request against its application's access
// policy: resolve, verify the signature, optionally check replay, then
// evaluate status and caller IP rules.
type AppAuthStage struct {
	config    AppAuthConfig
	source    CredentialSource
	verifier  *signature.Verifier
	evaluator *evaluator.Evaluator
	replay    *signature.ReplayGuard
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// AppAuthOption configures an AppAuthStage
type AppAuthOption func(*AppAuthStage)

// WithReplayGuard enables timestamp and nonce checks
func WithReplayGuard(g *signature.ReplayGuard) AppAuthOption {
	return func(s *AppAuthStage) { s.replay = g }
}

// WithAppAuthMetrics records backend alerts
func WithAppAuthMetrics(m *observability.Metrics) AppAuthOption {
	return func(s *AppAuthStage) { s.metrics = m }
}

// WithAppAuthLogger sets the logger for backend failures
func WithAppAuthLogger(l *observability.Logger) AppAuthOption {
	return func(s *AppAuthStage) { s.logger = l }
}

// NewAppAuthStage creates the stage
func NewAppAuthStage(config AppAuthConfig, source CredentialSource, verifier *signature.Verifier, opts ...AppAuthOption) *AppAuthStage {
	s := &AppAuthStage{
		config:    config,
		source:    source,
		verifier:  verifier,
		evaluator: evaluator.New(),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the stage name
func (s *AppAuthStage) Name() string {
	return AppAuthStageName
}

// Authenticate runs the checks in order and rejects on the first failure
func (s *AppAuthStage) Authenticate(r *http.Request) gateway.Outcome {
	if hasPrefix(r.URL.Path, s.config.SkipPaths) {
		return gateway.Next(r)
	}

	ctx := r.Context()
	if ctx.Err() != nil {
		return gateway.Reject(policy.ReasonRequestCancelled, nil)
	}

	params, err := s.params(r)
	if err != nil {
		return gateway.Reject(policy.ReasonInvalidSignature, map[string]interface{}{
			"caller_ip": httputil.ClientIP(r, s.config.TrustForwardedFor),
			"error":     err.Error(),
		})
	}
	appKey := params[s.config.AppKeyParam]
	supplied := params[s.verifier.SignatureParam()]
	service := httputil.ServiceSegment(r.URL.Path)
	callerIP := httputil.ClientIP(r, s.config.TrustForwardedFor)

	fields := map[string]interface{}{
		"app_key":   appKey,
		"service":   service,
		"caller_ip": callerIP,
	}

	if appKey == "" || supplied == "" {
		return gateway.Reject(policy.ReasonMissingCredentials, fields)
	}

	p, err := s.source.Get(ctx, appKey)
	if err != nil {
		return gateway.Reject(s.classify(ctx, err, fields), fields)
	}

	if !s.verifier.Verify(p.Credential.AppSecret, params, supplied) {
		return gateway.Reject(policy.ReasonInvalidSignature, fields)
	}

	if s.replay != nil {
		if reason := s.replay.Check(appKey, params[s.config.TimestampParam], params[s.config.NonceParam]); reason != policy.ReasonNone {
			return gateway.Reject(reason, fields)
		}
	}

	if decision := s.evaluator.Authorize(p, service, callerIP); !decision.Allowed {
		return gateway.Reject(decision.Reason, fields)
	}

	ctx = contextkeys.WithPolicy(ctx, p)
	ctx = contextkeys.WithService(ctx, service)
	return gateway.Next(r.WithContext(ctx))
}

func (s *AppAuthStage) classify(ctx context.Context, err error, fields map[string]interface{}) policy.Reason {
	switch {
	case policy.IsNotFound(err):
		return policy.ReasonCredentialNotFound
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return policy.ReasonRequestCancelled
	default:
		s.metrics.RecordBackendAlert(AppAuthStageName)
		s.logger.WithError(err).WithFields(fields).Error("Access policy backend unavailable, failing closed")
		return policy.ReasonBackendUnavailable
	}
}

// params collects signing inputs from the raw query. Every forwarded pair
// must be signable: a malformed pair or a repeated key is an error. In
// header mode the credential headers join the query parameters under their
// parameter names, so the signature covers them too; a header that collides
// with a query parameter of the same name is an error.
func (s *AppAuthStage) params(r *http.Request) (signature.Params, error) {
	params, err := signature.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return nil, err
	}
	if s.config.ParamSource != ParamSourceHeader {
		return params, nil
	}

	headers := map[string]string{
		s.config.AppKeyHeader:    s.config.AppKeyParam,
		s.config.SignatureHeader: s.verifier.SignatureParam(),
		s.config.TimestampHeader: s.config.TimestampParam,
		s.config.NonceHeader:     s.config.NonceParam,
	}
	for header, param := range headers {
		if header == "" || param == "" {
			continue
		}
		values := r.Header.Values(header)
		if len(values) == 0 || (len(values) == 1 && values[0] == "") {
			continue
		}
		if len(values) > 1 {
			return nil, fmt.Errorf("%w: header %q", signature.ErrRepeatedParam, header)
		}
		if _, dup := params[param]; dup {
			return nil, fmt.Errorf("%w: %q in both query and header", signature.ErrRepeatedParam, param)
		}
		params[param] = values[0]
	}
	return params, nil
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
