package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	storage "github.com/platinummonkey/tourdesk/pkg/storage/postgres"
)

// PermissionCache stores effective permission sets per (principal, scope).
// Implementations must be safe for concurrent use. A cache error is never
// treated as a grant: callers fall back to the store.
type PermissionCache interface {
	Get(ctx context.Context, principalID string, scope *string) (PermissionSet, bool, error)
	Set(ctx context.Context, principalID string, scope *string, set PermissionSet) error
	InvalidatePrincipal(ctx context.Context, principalID string) error
	Purge(ctx context.Context) error
}

// NoopPermissionCache disables caching
type NoopPermissionCache struct{}

func (NoopPermissionCache) Get(context.Context, string, *string) (PermissionSet, bool, error) {
	return PermissionSet{}, false, nil
}
func (NoopPermissionCache) Set(context.Context, string, *string, PermissionSet) error { return nil }
func (NoopPermissionCache) InvalidatePrincipal(context.Context, string) error        { return nil }
func (NoopPermissionCache) Purge(context.Context) error                              { return nil }

// cacheKey escapes the principal so ids cannot collide with the separator or glob characters
func cacheKey(principalID string, scope *string) string {
	if scope == nil {
		return url.QueryEscape(principalID) + ":g"
	}
	return url.QueryEscape(principalID) + ":t:" + url.QueryEscape(*scope)
}

func principalPrefix(principalID string) string {
	return url.QueryEscape(principalID) + ":"
}

// LRUPermissionCache is an in-process cache with per-entry expiry
type LRUPermissionCache struct {
	lru *expirable.LRU[string, PermissionSet]
}

// NewLRUPermissionCache creates an LRU holding up to size entries for ttl each
func NewLRUPermissionCache(size int, ttl time.Duration) *LRUPermissionCache {
	if size <= 0 {
		size = 10000
	}
	return &LRUPermissionCache{lru: expirable.NewLRU[string, PermissionSet](size, nil, ttl)}
}

func (c *LRUPermissionCache) Get(_ context.Context, principalID string, scope *string) (PermissionSet, bool, error) {
	set, ok := c.lru.Get(cacheKey(principalID, scope))
	return set, ok, nil
}

func (c *LRUPermissionCache) Set(_ context.Context, principalID string, scope *string, set PermissionSet) error {
	c.lru.Add(cacheKey(principalID, scope), set)
	return nil
}

func (c *LRUPermissionCache) InvalidatePrincipal(_ context.Context, principalID string) error {
	prefix := principalPrefix(principalID)
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
	return nil
}

func (c *LRUPermissionCache) Purge(context.Context) error {
	c.lru.Purge()
	return nil
}

// Len returns the number of live entries
func (c *LRUPermissionCache) Len() int {
	return c.lru.Len()
}

const redisKeyPrefix = "rbac:perms:"

// RedisPermissionCache shares permission sets between service instances
type RedisPermissionCache struct {
	client *storage.RedisClient
	ttl    time.Duration
}

// NewRedisPermissionCache creates a Redis-backed cache with the given entry ttl
func NewRedisPermissionCache(client *storage.RedisClient, ttl time.Duration) *RedisPermissionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisPermissionCache{client: client, ttl: ttl}
}

func (c *RedisPermissionCache) Get(ctx context.Context, principalID string, scope *string) (PermissionSet, bool, error) {
	data, err := c.client.GetClient().Get(ctx, redisKeyPrefix+cacheKey(principalID, scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PermissionSet{}, false, nil
	}
	if err != nil {
		return PermissionSet{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		// corrupt entries are dropped and treated as a miss
		c.client.GetClient().Del(ctx, redisKeyPrefix+cacheKey(principalID, scope))
		return PermissionSet{}, false, fmt.Errorf("failed to unmarshal permission set: %w", err)
	}
	return NewPermissionSet(keys...), true, nil
}

func (c *RedisPermissionCache) Set(ctx context.Context, principalID string, scope *string, set PermissionSet) error {
	data, err := json.Marshal(set.Keys())
	if err != nil {
		return fmt.Errorf("failed to marshal permission set: %w", err)
	}
	return c.client.GetClient().Set(ctx, redisKeyPrefix+cacheKey(principalID, scope), data, c.ttl).Err()
}

func (c *RedisPermissionCache) InvalidatePrincipal(ctx context.Context, principalID string) error {
	return c.client.InvalidatePatterns(ctx, redisKeyPrefix+principalPrefix(principalID)+"*")
}

func (c *RedisPermissionCache) Purge(ctx context.Context) error {
	return c.client.InvalidatePatterns(ctx, redisKeyPrefix+"*")
}
