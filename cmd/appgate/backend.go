package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/appgate/pkg/observability"
	"github.com/platinummonkey/appgate/pkg/storage"
	"github.com/platinummonkey/appgate/pkg/storage/configmap"
	"github.com/platinummonkey/appgate/pkg/storage/memory"
	"github.com/platinummonkey/appgate/pkg/storage/postgres"
	"github.com/platinummonkey/appgate/pkg/storage/rediscache"
)

const (
	kubeSyncTimeout       = 10 * time.Second
	replicaHealthSchedule = "@every 1m"
	replicaHealthTimeout  = 5 * time.Second
)

// keyLister is implemented by backends that hold their whole document in memory
type keyLister interface {
	Keys() []string
}

// backends is the assembled policy storage stack
type backends struct {
	// store is what the credential cache resolves against
	store storage.Backend
	// primary is the backend under the shared tier
	primary storage.Backend
	shared  *rediscache.Store

	db    *sql.DB
	redis *redis.Client
}

// warmKeys returns every app key the primary backend can enumerate
func (b *backends) warmKeys() []string {
	if l, ok := b.primary.(keyLister); ok {
		return l.Keys()
	}
	return nil
}

func buildBackends(ctx context.Context, cfg storage.Config, scheduler *cron.Cron, metrics *observability.Metrics, logger *observability.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.Type {
	case storage.TypeMemory:
		store := memory.NewStore()
		if cfg.MemorySeedFile != "" {
			raw, err := os.ReadFile(cfg.MemorySeedFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read seed file: %w", err)
			}
			policies, err := configmap.ParseDocument(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid seed file %s: %w", cfg.MemorySeedFile, err)
			}
			store.Replace(policies)
			logger.WithField("applications", len(policies)).Info("Loaded memory seed file")
		}
		b.primary = store

	case storage.TypePostgres:
		conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
			PrimaryURL:  cfg.PostgresURL,
			ReplicaURLs: cfg.PostgresReplicaURLs,
			MaxConns:    cfg.PostgresMaxConns,
			MinConns:    cfg.PostgresMinConns,
			Timeout:     cfg.PostgresTimeout,
			MaxLifetime: cfg.PostgresMaxLifetime,
			MaxIdleTime: cfg.PostgresMaxIdleTime,
		}, logger)
		if err != nil {
			return nil, err
		}
		if len(cfg.PostgresReplicaURLs) > 0 {
			_, err = scheduler.AddFunc(replicaHealthSchedule, func() {
				ctx, cancel := context.WithTimeout(context.Background(), replicaHealthTimeout)
				defer cancel()
				if n := conns.RemoveUnhealthyReplicas(ctx); n > 0 {
					logger.WithField("removed", n).Warn("Removed unhealthy read replicas")
				}
			})
			if err != nil {
				conns.Close()
				return nil, fmt.Errorf("failed to schedule replica health check: %w", err)
			}
		}
		b.primary = postgres.NewStore(conns)
		b.db = conns.Primary()

	case storage.TypeConfigMap:
		store := configmap.NewStore(metrics, logger)
		switch cfg.ConfigMapSource {
		case storage.SourceFile:
			if err := configmap.NewFileSource(cfg.ConfigMapPath, store, logger).Start(ctx); err != nil {
				return nil, err
			}
		case storage.SourceKube:
			client, err := configmap.NewKubeClient(cfg.ConfigMapKubeconfig)
			if err != nil {
				return nil, err
			}
			src := configmap.NewKubeSource(client, cfg.ConfigMapNamespace, cfg.ConfigMapName, cfg.ConfigMapDataKey, store, logger)
			syncCtx, cancel := context.WithTimeout(ctx, kubeSyncTimeout)
			if err := src.Sync(syncCtx); err != nil {
				logger.WithError(err).Warn("Initial ConfigMap sync failed, will retry on schedule")
			}
			cancel()
			if _, err := src.Schedule(scheduler, cfg.ConfigMapPollSchedule, kubeSyncTimeout); err != nil {
				return nil, fmt.Errorf("failed to schedule ConfigMap sync: %w", err)
			}
		}
		b.primary = store

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}

	b.store = b.primary
	if cfg.SharedCacheEnabled() {
		client, err := rediscache.NewClient(cfg)
		if err != nil {
			b.primary.Close()
			return nil, err
		}
		b.redis = client
		b.shared = rediscache.New(client, b.primary, cfg, metrics, logger)
		b.store = b.shared
		logger.WithField("ttl", cfg.RedisTTL.String()).Info("Shared redis cache tier enabled")
	}

	return b, nil
}
