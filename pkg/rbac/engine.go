package rbac

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tourdesk/pkg/observability"
)

const tracerName = "github.com/platinummonkey/tourdesk/pkg/rbac"

// defaultLoadTimeout bounds a shared store query once it no longer follows any caller's context
const defaultLoadTimeout = 10 * time.Second

// PermissionSource computes effective permissions from the source of truth
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, principalID string, scope *string) ([]string, error)
}

// Engine answers permission queries. It never mutates RBAC state.
//
// Results are cached per (principal, scope). Concurrent misses for the same
// key share a single store query, which is detached from the cancellation of
// the caller that started it. Invalidation bumps an epoch so that a lookup
// which started before the invalidation cannot repopulate the cache with a
// stale set.
type Engine struct {
	source      PermissionSource
	cache       PermissionCache
	metrics     *Metrics
	logger      *observability.Logger
	tracer      trace.Tracer
	group       singleflight.Group
	epoch       atomic.Uint64
	loadTimeout time.Duration
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithCache sets the permission cache
func WithCache(cache PermissionCache) EngineOption {
	return func(e *Engine) {
		if cache != nil {
			e.cache = cache
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLoadTimeout bounds each shared store query
func WithLoadTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.loadTimeout = d
		}
	}
}

// NewEngine creates an engine over source; caching is off unless WithCache is given
func NewEngine(source PermissionSource, opts ...EngineOption) *Engine {
	e := &Engine{
		source:      source,
		cache:       NoopPermissionCache{},
		logger:      observability.NopLogger(),
		tracer:      otel.Tracer(tracerName),
		loadTimeout: defaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EffectivePermissions returns the union of permissions granted to principalID
// by its global assignments and, when scope is set, by assignments in that tour.
// A principal with no assignments gets the empty set, not an error.
func (e *Engine) EffectivePermissions(ctx context.Context, principalID string, scope *string) (PermissionSet, error) {
	if principalID == "" {
		return PermissionSet{}, nil
	}
	scope = normalizeScope(scope)

	set, hit, err := e.cache.Get(ctx, principalID, scope)
	if err != nil {
		e.metrics.recordCacheError()
		e.logger.WithError(err).WithField("principal", principalID).Warn("permission cache read failed")
	} else if hit {
		e.metrics.recordCache(true)
		return set, nil
	}
	e.metrics.recordCache(false)

	epoch := e.epoch.Load()
	key := strconv.FormatUint(epoch, 10) + "|" + cacheKey(principalID, scope)

	// the query outlives a cancelled caller so the other waiters still get an answer
	ch := e.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.loadTimeout)
		defer cancel()
		return e.load(loadCtx, principalID, scope, epoch)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return PermissionSet{}, res.Err
		}
		return res.Val.(PermissionSet), nil
	case <-ctx.Done():
		return PermissionSet{}, ctx.Err()
	}
}

func (e *Engine) load(ctx context.Context, principalID string, scope *string, epoch uint64) (PermissionSet, error) {
	ctx, span := e.tracer.Start(ctx, "rbac.EffectivePermissions",
		trace.WithAttributes(
			attribute.String("rbac.principal", principalID),
			attribute.Bool("rbac.scoped", scope != nil),
		),
	)
	defer span.End()

	start := time.Now()
	keys, err := e.source.EffectivePermissions(ctx, principalID, scope)
	e.metrics.observeLookup(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.WithError(err).WithField("principal", principalID).Error("effective permission lookup failed")
		return PermissionSet{}, err
	}

	set := NewPermissionSet(keys...)
	span.SetAttributes(attribute.Int("rbac.permission_count", set.Len()))

	if e.epoch.Load() != epoch {
		return set, nil
	}
	if err := e.cache.Set(ctx, principalID, scope, set); err != nil {
		e.metrics.recordCacheError()
		e.logger.WithError(err).WithField("principal", principalID).Warn("permission cache write failed")
		return set, nil
	}
	// an invalidation that landed between the check and the write may have missed the entry
	if e.epoch.Load() != epoch {
		if err := e.cache.InvalidatePrincipal(ctx, principalID); err != nil {
			e.metrics.recordCacheError()
			e.logger.WithError(err).WithField("principal", principalID).Error("permission cache invalidation failed")
		}
	}
	return set, nil
}

// IsAllowed reports whether key is in the principal's effective set.
// Errors are returned alongside false; callers must treat both as a denial.
func (e *Engine) IsAllowed(ctx context.Context, principalID, key string, scope *string) (bool, error) {
	return e.check(ctx, principalID, scope, func(set PermissionSet) bool { return set.Has(key) })
}

// IsAllowedAny reports whether at least one of keys is granted
func (e *Engine) IsAllowedAny(ctx context.Context, principalID string, keys []string, scope *string) (bool, error) {
	return e.check(ctx, principalID, scope, func(set PermissionSet) bool { return set.HasAny(keys...) })
}

// IsAllowedAll reports whether every one of keys is granted
func (e *Engine) IsAllowedAll(ctx context.Context, principalID string, keys []string, scope *string) (bool, error) {
	return e.check(ctx, principalID, scope, func(set PermissionSet) bool { return set.HasAll(keys...) })
}

func (e *Engine) check(ctx context.Context, principalID string, scope *string, match func(PermissionSet) bool) (bool, error) {
	set, err := e.EffectivePermissions(ctx, principalID, scope)
	if err != nil {
		e.metrics.recordCheckError()
		return false, err
	}
	allowed := match(set)
	e.metrics.recordCheck(allowed)
	if !allowed {
		e.logger.WithFields(map[string]interface{}{
			"principal": principalID,
			"scope":     scopeString(normalizeScope(scope)),
		}).Debug("permission denied")
	}
	return allowed, nil
}

// Prefetch returns the principal's set for repeated checks without further queries
func (e *Engine) Prefetch(ctx context.Context, principalID string, scope *string) (PermissionSet, error) {
	return e.EffectivePermissions(ctx, principalID, scope)
}

// InvalidatePrincipal drops every cached set of principalID
func (e *Engine) InvalidatePrincipal(ctx context.Context, principalID string) {
	e.epoch.Add(1)
	if err := e.cache.InvalidatePrincipal(ctx, principalID); err != nil {
		e.metrics.recordCacheError()
		e.logger.WithError(err).WithField("principal", principalID).Error("permission cache invalidation failed")
	}
}

// PurgeCache drops every cached set
func (e *Engine) PurgeCache(ctx context.Context) {
	e.epoch.Add(1)
	if err := e.cache.Purge(ctx); err != nil {
		e.metrics.recordCacheError()
		e.logger.WithError(err).Error("permission cache purge failed")
	}
}
