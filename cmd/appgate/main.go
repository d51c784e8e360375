package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/appgate/pkg/api"
	"github.com/platinummonkey/appgate/pkg/cache"
	"github.com/platinummonkey/appgate/pkg/config"
	"github.com/platinummonkey/appgate/pkg/gateway"
	"github.com/platinummonkey/appgate/pkg/httputil"
	"github.com/platinummonkey/appgate/pkg/middleware"
	"github.com/platinummonkey/appgate/pkg/observability"
	"github.com/platinummonkey/appgate/pkg/signature"
)

// version is set at build time
var version = "dev"

func main() {
	bootLogger := observability.NewLogger(observability.InfoLevel, os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "appgate")
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Gateway exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracing(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	scheduler := cron.New()
	stores, err := buildBackends(ctx, cfg.Storage, scheduler, metrics, logger)
	if err != nil {
		return err
	}

	creds := cache.New(stores.store, cfg.Cache.Config,
		cache.WithMetrics(metrics),
		cache.WithLogger(logger),
		cache.WithTracer(observability.Tracer()),
	)
	warmCache(ctx, creds, cfg.Cache.WarmKeys, stores, logger)

	if _, err := scheduler.AddFunc(cfg.Cache.SweepSchedule, func() {
		if n := creds.Sweep(); n > 0 {
			logger.WithField("evicted", n).Debug("Swept expired credential cache entries")
		}
		metrics.SetCacheEntries(creds.Stats().Entries)
	}); err != nil {
		stores.store.Close()
		return err
	}

	pipeline, err := buildPipeline(cfg, creds, metrics, logger)
	if err != nil {
		stores.store.Close()
		return err
	}

	gw, err := api.NewServer(pipeline, cfg.Upstreams, api.WithLogger(logger))
	if err != nil {
		stores.store.Close()
		return err
	}
	logger.WithFields(map[string]interface{}{
		"stages":   pipeline.Stages(),
		"services": gw.Services(),
	}).Info("Gateway pipeline configured")

	handler := httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		observability.HTTPMetricsMiddleware(metrics),
		httputil.LoggingMiddleware(logger),
	)(otelhttp.NewHandler(gw, "appgate.gateway"))

	health := observability.NewHealthChecker(stores.db, stores.redis, version)
	health.AddCheck("policy_backend", false, stores.store.HealthCheck)

	var shared api.SharedInvalidator
	if stores.shared != nil {
		shared = stores.shared
	}
	admin := api.NewAdminRouter(health, registry, api.NewAdminHandlers(creds, shared, logger))

	gatewayServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	adminServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           httputil.RecoveryMiddleware(logger)(admin),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.AddServer(gatewayServer)
	shutdown.AddServer(adminServer)
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("policy backend", func(context.Context) error {
		return stores.store.Close()
	})
	shutdown.Register("tracing", func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})

	scheduler.Start()

	serveErr := make(chan error, 2)
	for name, srv := range map[string]*http.Server{"gateway": gatewayServer, "admin": adminServer} {
		go func(name string, srv *http.Server) {
			defer observability.RecoverPanic(logger, name+" server")
			logger.WithFields(map[string]interface{}{"server": name, "addr": srv.Addr}).Info("Starting HTTP server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}(name, srv)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err = <-serveErr:
		logger.WithError(err).Error("HTTP server failed")
	}

	if shutdownErr := shutdown.Shutdown(); shutdownErr != nil {
		return errors.Join(err, shutdownErr)
	}
	return err
}

func buildPipeline(cfg *config.Config, creds *cache.CredentialCache, metrics *observability.Metrics, logger *observability.Logger) (*gateway.Pipeline, error) {
	verifier, err := signature.NewVerifier(cfg.Auth.Verifier())
	if err != nil {
		return nil, err
	}

	opts := []middleware.AppAuthOption{
		middleware.WithAppAuthMetrics(metrics),
		middleware.WithAppAuthLogger(logger),
	}
	if cfg.Auth.ReplayWindow > 0 {
		opts = append(opts, middleware.WithReplayGuard(
			signature.NewReplayGuard(cfg.Auth.ReplayWindow, cfg.Auth.ReplayCacheSize, time.Now),
		))
	}

	stages := []gateway.Ordered{
		{Order: middleware.DefaultRequestIDOrder, Stage: middleware.NewRequestIDStage()},
		{Order: cfg.Auth.Order, Stage: middleware.NewAppAuthStage(cfg.Auth.AppAuth(), creds, verifier, opts...)},
	}
	if cfg.StaticKey.Enabled {
		stages = append(stages, gateway.Ordered{
			Order: cfg.StaticKey.Order,
			Stage: middleware.NewStaticKeyStage(cfg.StaticKey.Stage()),
		})
	}

	return gateway.NewPipeline(stages,
		gateway.WithTagHeader(cfg.Auth.TagHeader),
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	), nil
}

// warmCache preloads configured keys, or every key of an enumerable backend
func warmCache(ctx context.Context, creds *cache.CredentialCache, keys []string, stores *backends, logger *observability.Logger) {
	if len(keys) == 0 {
		keys = stores.warmKeys()
	}
	if len(keys) == 0 {
		return
	}

	errs := creds.Warm(ctx, keys)
	logger.WithFields(map[string]interface{}{
		"keys":   len(keys),
		"failed": len(errs),
	}).Info("Credential cache warmed")
}
