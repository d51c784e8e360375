package cache

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/appgate/pkg/async"
	"github.com/platinummonkey/appgate/pkg/observability"
	"github.com/platinummonkey/appgate/pkg/policy"
)

// Refresh triggers, used as metric labels
const (
	triggerMiss   = "miss"
	triggerAhead  = "ahead"
	triggerManual = "manual"
)

// slot holds the per-key state. entry is replaced atomically, never mutated.
type slot struct {
	gen        atomic.Uint64
	entry      atomic.Pointer[Entry]
	refreshing atomic.Bool
}

// CredentialCache is a cache-aside layer in front of a policy.Store.
// Concurrent misses for one key share a single backend resolve.
type CredentialCache struct {
	store   policy.Store
	config  Config
	clock   Clock
	metrics *observability.Metrics
	logger  *observability.Logger
	tracer  trace.Tracer

	slots sync.Map // appKey -> *slot
	group singleflight.Group

	hits         atomic.Uint64
	negativeHits atomic.Uint64
	misses       atomic.Uint64
	refreshes    atomic.Uint64
	failures     atomic.Uint64
}

// Option configures a CredentialCache
type Option func(*CredentialCache)

// WithClock injects the time source
func WithClock(clock Clock) Option {
	return func(c *CredentialCache) { c.clock = clock }
}

// WithMetrics records cache metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(c *CredentialCache) { c.metrics = m }
}

// WithLogger sets the logger used for background refresh failures
func WithLogger(l *observability.Logger) Option {
	return func(c *CredentialCache) { c.logger = l }
}

// WithTracer sets the tracer for backend resolve spans
func WithTracer(t trace.Tracer) Option {
	return func(c *CredentialCache) { c.tracer = t }
}

// New creates a credential cache over store
func New(store policy.Store, config Config, opts ...Option) *CredentialCache {
	c := &CredentialCache{
		store:  store,
		config: config,
		clock:  SystemClock,
		logger: observability.NopLogger(),
		tracer: observability.Tracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the access policy for appKey, or an error matching
// policy.ErrNotFound. A valid entry is served without touching the store.
// If ctx ends while waiting on a resolve, Get returns ctx's error and the
// resolve still completes and populates the cache.
func (c *CredentialCache) Get(ctx context.Context, appKey string) (*policy.AccessPolicy, error) {
	if appKey == "" {
		return nil, policy.ErrNotFound
	}

	s := c.slot(appKey)
	now := c.clock.Now()
	if e := s.entry.Load(); e != nil && e.Valid(now) {
		if e.NotFound() {
			c.negativeHits.Add(1)
			c.metrics.RecordCacheLookup("negative_hit")
			return nil, policy.ErrNotFound
		}
		c.hits.Add(1)
		c.metrics.RecordCacheLookup("hit")
		c.maybeRefreshAhead(appKey, s, e, now)
		return e.Policy, nil
	}

	c.misses.Add(1)
	c.metrics.RecordCacheLookup("miss")
	return c.await(ctx, appKey, triggerMiss)
}

// Refresh forces a new backend resolve for appKey, even if another resolve
// is already in flight, and returns its result.
func (c *CredentialCache) Refresh(ctx context.Context, appKey string) (*policy.AccessPolicy, error) {
	if appKey == "" {
		return nil, policy.ErrNotFound
	}
	c.group.Forget(appKey)
	return c.await(ctx, appKey, triggerManual)
}

// Invalidate drops the cached entry for appKey. Resolves that started
// before the call cannot reinstall their result.
func (c *CredentialCache) Invalidate(appKey string) {
	v, ok := c.slots.Load(appKey)
	if !ok {
		return
	}
	s := v.(*slot)
	c.install(s, &Entry{Generation: s.gen.Add(1)})
	c.group.Forget(appKey)
}

// Peek returns the current entry for appKey without side effects
func (c *CredentialCache) Peek(appKey string) (*Entry, bool) {
	v, ok := c.slots.Load(appKey)
	if !ok {
		return nil, false
	}
	e := v.(*slot).entry.Load()
	return e, e != nil
}

// Sweep removes keys whose entry is no longer servable and returns how
// many were removed.
func (c *CredentialCache) Sweep() int {
	now := c.clock.Now()
	removed, remaining := 0, 0
	c.slots.Range(func(k, v any) bool {
		s := v.(*slot)
		if e := s.entry.Load(); e == nil || !e.Valid(now) {
			if c.slots.CompareAndDelete(k, v) {
				removed++
			}
			return true
		}
		remaining++
		return true
	})
	c.metrics.SetCacheEntries(remaining)
	return removed
}

// Warm resolves keys in parallel and caches the results. NotFound keys are
// cached as tombstones and not reported as errors.
func (c *CredentialCache) Warm(ctx context.Context, keys []string) []error {
	workers := c.config.WarmConcurrency
	return async.Batch(ctx, keys, workers, "credential cache warm", c.config.ResolveTimeout,
		func(ctx context.Context, key string) error {
			_, err := c.Refresh(ctx, key)
			if err != nil && !policy.IsNotFound(err) {
				return err
			}
			return nil
		})
}

// Stats is a point-in-time view of the cache
type Stats struct {
	Entries      int     `json:"entries"`
	Positive     int     `json:"positive"`
	Negative     int     `json:"negative"`
	Hits         uint64  `json:"hits"`
	NegativeHits uint64  `json:"negative_hits"`
	Misses       uint64  `json:"misses"`
	Refreshes    uint64  `json:"refreshes"`
	Failures     uint64  `json:"failures"`
	HitRate      float64 `json:"hit_rate"`
}

// Stats returns cache statistics
func (c *CredentialCache) Stats() Stats {
	now := c.clock.Now()
	stats := Stats{
		Hits:         c.hits.Load(),
		NegativeHits: c.negativeHits.Load(),
		Misses:       c.misses.Load(),
		Refreshes:    c.refreshes.Load(),
		Failures:     c.failures.Load(),
	}
	c.slots.Range(func(_, v any) bool {
		e := v.(*slot).entry.Load()
		if e == nil || !e.Valid(now) {
			return true
		}
		stats.Entries++
		if e.NotFound() {
			stats.Negative++
		} else {
			stats.Positive++
		}
		return true
	})

	total := stats.Hits + stats.NegativeHits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits+stats.NegativeHits) / float64(total)
	}
	return stats
}

func (c *CredentialCache) slot(appKey string) *slot {
	if v, ok := c.slots.Load(appKey); ok {
		return v.(*slot)
	}
	v, _ := c.slots.LoadOrStore(appKey, &slot{})
	return v.(*slot)
}

// await joins the in-flight resolve for appKey, starting one if needed
func (c *CredentialCache) await(ctx context.Context, appKey, trigger string) (*policy.AccessPolicy, error) {
	ch := c.group.DoChan(appKey, func() (interface{}, error) {
		return c.resolve(appKey, trigger)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		e := res.Val.(*Entry)
		if e.NotFound() {
			return nil, policy.ErrNotFound
		}
		return e.Policy, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *CredentialCache) maybeRefreshAhead(appKey string, s *slot, e *Entry, now time.Time) {
	if c.config.RefreshAhead <= 0 {
		return
	}
	threshold := time.Duration(float64(c.config.TTL) * c.config.RefreshAhead)
	if now.Sub(e.StoredAt) < threshold {
		return
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return
	}

	async.SafeGo(context.Background(), c.config.ResolveTimeout, "credential refresh-ahead", c.logger,
		func(ctx context.Context) error {
			defer s.refreshing.Store(false)
			ch := c.group.DoChan(appKey, func() (interface{}, error) {
				return c.resolve(appKey, triggerAhead)
			})
			select {
			case res := <-ch:
				if res.Err != nil {
					return res.Err
				}
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
}

// resolve performs one backend call and installs the result. It runs at most
// once per key at a time under the singleflight group.
func (c *CredentialCache) resolve(appKey, trigger string) (*Entry, error) {
	s := c.slot(appKey)
	gen := s.gen.Add(1)
	c.refreshes.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ResolveTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "credential_cache.resolve", trace.WithAttributes(
		attribute.String("appgate.app_key", appKey),
		attribute.String("appgate.cache.trigger", trigger),
	))
	defer span.End()

	start := time.Now()
	p, err := c.fetch(ctx, appKey)
	elapsed := time.Since(start)
	now := c.clock.Now()

	var e *Entry
	switch {
	case err == nil && p != nil:
		e = &Entry{Policy: p, StoredAt: now, ExpiresAt: now.Add(c.config.TTL), Generation: gen}
		c.metrics.RecordBackendResolve("found", elapsed)
		if invalid := p.InvalidCallerIPs(); len(invalid) > 0 {
			c.logger.WithFields(map[string]interface{}{
				"app_key": appKey,
				"invalid": invalid,
			}).Warn("Ignoring unparseable caller IP entries")
		}
	case err == nil || errors.Is(err, policy.ErrNotFound):
		e = &Entry{StoredAt: now, ExpiresAt: now.Add(c.config.NegativeTTL), Generation: gen}
		c.metrics.RecordBackendResolve("not_found", elapsed)
	default:
		c.failures.Add(1)
		c.metrics.RecordBackendResolve("error", elapsed)
		c.metrics.RecordCacheRefresh(trigger, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		if !policy.IsBackendUnavailable(err) {
			err = policy.NewBackendError("store", "resolve", err)
		}
		return nil, err
	}

	if !c.install(s, e) {
		// A newer resolve or an invalidation won; share its view when servable.
		if cur := s.entry.Load(); cur != nil && cur.Valid(now) {
			e = cur
		}
		c.metrics.RecordCacheRefresh(trigger, "superseded")
		return e, nil
	}

	outcome := "found"
	if e.NotFound() {
		outcome = "not_found"
	}
	c.metrics.RecordCacheRefresh(trigger, outcome)
	span.SetAttributes(attribute.String("appgate.cache.outcome", outcome))
	return e, nil
}

// fetch calls the store, turning a panic into a backend error so it never
// escapes the singleflight goroutine
func (c *CredentialCache) fetch(ctx context.Context, appKey string) (p *policy.AccessPolicy, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(map[string]interface{}{
				"app_key": appKey,
				"panic":   r,
				"stack":   string(debug.Stack()),
			}).Error("Access policy store panicked")
			p, err = nil, policy.NewBackendError("store", "resolve", observability.PanicError(r))
		}
	}()
	return c.store.Resolve(ctx, appKey)
}

// install replaces the slot entry unless a newer generation is already present
func (c *CredentialCache) install(s *slot, e *Entry) bool {
	for {
		cur := s.entry.Load()
		if cur != nil && cur.Generation >= e.Generation {
			return false
		}
		if s.entry.CompareAndSwap(cur, e) {
			return true
		}
	}
}
