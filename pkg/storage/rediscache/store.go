package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/appgate/pkg/observability"
	"github.com/platinummonkey/appgate/pkg/policy"
	"github.com/platinummonkey/appgate/pkg/storage"
)

// Store is a read-through decorator that shares resolved policies across
// gateway replicas. Redis failures are never fatal: the decorator falls
// through to the wrapped backend. Only positive results are written;
// NotFound and backend errors are never stored.
type Store struct {
	client  *redis.Client
	next    storage.Backend
	ttl     time.Duration
	prefix  string
	metrics *observability.Metrics
	logger  *observability.Logger
}

// New wraps next with a shared Redis tier
func New(client *redis.Client, next storage.Backend, config storage.Config, metrics *observability.Metrics, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	prefix := config.RedisKeyPrefix
	if prefix == "" {
		prefix = storage.DefaultConfig().RedisKeyPrefix
	}
	return &Store{
		client:  client,
		next:    next,
		ttl:     config.RedisTTL,
		prefix:  prefix,
		metrics: metrics,
		logger:  logger.WithField("backend", "redis"),
	}
}

func (s *Store) key(appKey string) string {
	return s.prefix + appKey
}

// Resolve serves from Redis when present, else from the wrapped backend
func (s *Store) Resolve(ctx context.Context, appKey string) (*policy.AccessPolicy, error) {
	key := s.key(appKey)

	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var r record
		if jsonErr := json.Unmarshal(data, &r); jsonErr == nil && r.AppKey == appKey {
			s.metrics.RecordSharedCacheOp("get", "hit")
			return r.toPolicy(), nil
		}
		// Corrupt or mismatched record: drop it and reload
		s.metrics.RecordSharedCacheOp("get", "corrupt")
		s.client.Del(ctx, key)
	case errors.Is(err, redis.Nil):
		s.metrics.RecordSharedCacheOp("get", "miss")
	default:
		s.metrics.RecordSharedCacheOp("get", "error")
		s.logger.WithError(err).WithField("app_key", appKey).Warn("Shared cache read failed, using backend")
	}

	p, err := s.next.Resolve(ctx, appKey)
	if err != nil {
		if policy.IsNotFound(err) {
			s.client.Del(ctx, key)
		}
		return nil, err
	}

	payload, err := json.Marshal(toRecord(p))
	if err != nil {
		return p, nil
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.metrics.RecordSharedCacheOp("set", "error")
		s.logger.WithError(err).WithField("app_key", appKey).Warn("Shared cache write failed")
	} else {
		s.metrics.RecordSharedCacheOp("set", "ok")
	}
	return p, nil
}

// Invalidate removes appKey from the shared tier
func (s *Store) Invalidate(ctx context.Context, appKey string) error {
	err := s.client.Del(ctx, s.key(appKey)).Err()
	if err != nil {
		s.metrics.RecordSharedCacheOp("del", "error")
		return err
	}
	s.metrics.RecordSharedCacheOp("del", "ok")
	return nil
}

// HealthCheck reports the wrapped backend's health. Redis health is
// reported separately since the tier is optional.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.next.HealthCheck(ctx)
}

// Close closes the wrapped backend and the Redis client
func (s *Store) Close() error {
	return errors.Join(s.next.Close(), s.client.Close())
}
