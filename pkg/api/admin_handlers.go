package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/appgate/pkg/cache"
	"github.com/platinummonkey/appgate/pkg/httputil"
	"github.com/platinummonkey/appgate/pkg/observability"
	"github.com/platinummonkey/appgate/pkg/policy"
)

// CacheAdmin is the administrative surface of the credential cache
type CacheAdmin interface {
	Invalidate(appKey string)
	Refresh(ctx context.Context, appKey string) (*policy.AccessPolicy, error)
	Stats() cache.Stats
	Warm(ctx context.Context, keys []string) []error
}

// SharedInvalidator drops an entry from the shared redis tier
type SharedInvalidator interface {
	Invalidate(ctx context.Context, appKey string) error
}

// AdminHandlers serves cache control endpoints on the internal port
type AdminHandlers struct {
	cache  CacheAdmin
	shared SharedInvalidator
	logger *observability.Logger
}

// NewAdminHandlers creates admin handlers. shared may be nil.
func NewAdminHandlers(c CacheAdmin, shared SharedInvalidator, logger *observability.Logger) *AdminHandlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AdminHandlers{cache: c, shared: shared, logger: logger}
}

// RegisterRoutes registers cache admin routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/cache/stats", h.stats).Methods("GET")
	router.HandleFunc("/admin/cache/warm", h.warm).Methods("POST")
	router.HandleFunc("/admin/cache/{appKey}", h.invalidate).Methods("DELETE")
	router.HandleFunc("/admin/cache/{appKey}/refresh", h.refresh).Methods("POST")
}

// RefreshResponse reports the outcome of a forced refresh
type RefreshResponse struct {
	AppKey   string   `json:"app_key"`
	Found    bool     `json:"found"`
	Status   string   `json:"status,omitempty"`
	Services []string `json:"services,omitempty"`
}

// WarmRequest lists the app keys to preload
type WarmRequest struct {
	AppKeys []string `json:"app_keys"`
}

// WarmResponse reports how many keys failed to load
type WarmResponse struct {
	Requested int      `json:"requested"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// NewAdminRouter builds the internal router: probes, metrics and, when
// admin is not nil, the cache admin routes.
func NewAdminRouter(health *observability.HealthChecker, registry *prometheus.Registry, admin *AdminHandlers) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", health.Liveness).Methods("GET")
	router.HandleFunc("/readyz", health.Readiness).Methods("GET")
	if registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	}
	if admin != nil {
		admin.RegisterRoutes(router)
	}
	return router
}

// stats handles GET /admin/cache/stats
func (h *AdminHandlers) stats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.cache.Stats())
}

// invalidate handles DELETE /admin/cache/{appKey}
func (h *AdminHandlers) invalidate(w http.ResponseWriter, r *http.Request) {
	appKey, ok := httputil.ParsePathStringOrError(w, r, "appKey")
	if !ok {
		return
	}

	if h.shared != nil {
		if err := h.shared.Invalidate(r.Context(), appKey); err != nil {
			h.logger.WithError(err).WithField("app_key", appKey).Error("Failed to invalidate shared cache entry")
			httputil.WriteErrorMessage(w, http.StatusBadGateway, "shared cache invalidation failed")
			return
		}
	}
	h.cache.Invalidate(appKey)

	h.logger.WithField("app_key", appKey).Info("Credential cache entry invalidated")
	httputil.WriteNoContent(w)
}

// refresh handles POST /admin/cache/{appKey}/refresh
func (h *AdminHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	appKey, ok := httputil.ParsePathStringOrError(w, r, "appKey")
	if !ok {
		return
	}

	// The shared tier would otherwise serve the stale record back
	if h.shared != nil {
		if err := h.shared.Invalidate(r.Context(), appKey); err != nil {
			h.logger.WithError(err).WithField("app_key", appKey).Warn("Failed to invalidate shared cache entry before refresh")
		}
	}

	p, err := h.cache.Refresh(r.Context(), appKey)
	switch {
	case policy.IsNotFound(err):
		httputil.WriteSuccess(w, RefreshResponse{AppKey: appKey, Found: false})
		return
	case err != nil:
		h.logger.WithError(err).WithField("app_key", appKey).Error("Credential refresh failed")
		httputil.WriteErrorMessage(w, http.StatusBadGateway, "policy backend unavailable")
		return
	}

	resp := RefreshResponse{AppKey: appKey, Found: true, Status: string(p.Credential.Status)}
	for _, g := range p.Grants {
		resp.Services = append(resp.Services, g.ServiceCode)
	}
	httputil.WriteSuccess(w, resp)
}

// warm handles POST /admin/cache/warm
func (h *AdminHandlers) warm(w http.ResponseWriter, r *http.Request) {
	var req WarmRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if len(req.AppKeys) == 0 {
		httputil.WriteBadRequest(w, "app_keys is required")
		return
	}

	errs := h.cache.Warm(r.Context(), req.AppKeys)
	resp := WarmResponse{Requested: len(req.AppKeys), Failed: len(errs)}
	for _, err := range errs {
		resp.Errors = append(resp.Errors, err.Error())
	}
	if len(errs) > 0 {
		h.logger.WithFields(map[string]interface{}{
			"requested": resp.Requested,
			"failed":    resp.Failed,
		}).Warn("Credential cache warm incomplete")
	}
	httputil.WriteSuccess(w, resp)
}
