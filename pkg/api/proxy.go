package api

import (
	"fmt"
	"net/http"
	nethttputil "net/http/httputil"
	"net/url"

	"github.com/platinummonkey/appgate/pkg/contextkeys"
	"github.com/platinummonkey/appgate/pkg/httputil"
	"github.com/platinummonkey/appgate/pkg/middleware"
	"github.com/platinummonkey/appgate/pkg/observability"
)

// newUpstreamProxy builds a reverse proxy that strips the service segment
// and forwards to target. The request id is echoed on the response.
func newUpstreamProxy(service, rawURL string) (*nethttputil.ReverseProxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream URL must be absolute: %q", rawURL)
	}

	return &nethttputil.ReverseProxy{
		Rewrite: func(pr *nethttputil.ProxyRequest) {
			pr.Out.URL.Path = httputil.StripServiceSegment(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			if id := contextkeys.GetRequestID(resp.Request.Context()); id != "" {
				resp.Header.Set(middleware.RequestIDHeader, id)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			fields := map[string]interface{}{
				"service":  service,
				"upstream": target.Host,
			}
			if p, ok := contextkeys.GetPolicy(r.Context()); ok {
				fields["app_key"] = p.AppKey()
			}
			logger := observability.WithTraceContext(r.Context(), observability.FromContext(r.Context()))
			logger.WithError(err).WithFields(fields).Warn("Upstream request failed")
			w.WriteHeader(http.StatusBadGateway)
		},
	}, nil
}
