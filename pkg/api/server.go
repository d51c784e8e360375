package api

import (
	"fmt"
	"net/http"
	nethttputil "net/http/httputil"
	"sort"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/appgate/pkg/gateway"
	"github.com/platinummonkey/appgate/pkg/httputil"
	"github.com/platinummonkey/appgate/pkg/observability"
)

// Server is the public gateway: the authentication pipeline in front of a
// router that proxies /{service}/... to the service's upstream.
type Server struct {
	router    *mux.Router
	handler   http.Handler
	upstreams map[string]*nethttputil.ReverseProxy
	logger    *observability.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the gateway server. upstreams maps service codes to
// base URLs. The pipeline runs before routing, so an unknown service is
// only reported to callers that already passed authentication.
func NewServer(pipeline *gateway.Pipeline, upstreams map[string]string, opts ...Option) (*Server, error) {
	s := &Server{
		router:    mux.NewRouter(),
		upstreams: make(map[string]*nethttputil.ReverseProxy, len(upstreams)),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for service, raw := range upstreams {
		proxy, err := newUpstreamProxy(service, raw)
		if err != nil {
			return nil, fmt.Errorf("upstream %s: %w", service, err)
		}
		s.upstreams[service] = proxy
		s.logger.WithFields(map[string]interface{}{"service": service, "upstream": raw}).Debug("Registered upstream")
	}

	s.setupRoutes()
	s.handler = pipeline.Handler(s.router)
	return s, nil
}

// setupRoutes configures the proxy routes
func (s *Server) setupRoutes() {
	s.router.PathPrefix("/{service}/").HandlerFunc(s.forward)
	s.router.HandleFunc("/{service}", s.forward)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "not found")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Services returns the routed service codes in sorted order
func (s *Server) Services() []string {
	out := make([]string, 0, len(s.upstreams))
	for service := range s.upstreams {
		out = append(out, service)
	}
	sort.Strings(out)
	return out
}

// forward handles /{service}/...
func (s *Server) forward(w http.ResponseWriter, r *http.Request) {
	service, ok := httputil.ParsePathStringOrError(w, r, "service")
	if !ok {
		return
	}

	proxy, ok := s.upstreams[service]
	if !ok {
		httputil.WriteNotFoundError(w, "unknown service: "+service)
		return
	}
	proxy.ServeHTTP(w, r)
}
