package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/incidentviz/internal/metrics"
)

const (
	kindInfo       = "info"
	kindAssessment = "assessment"
)

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addr        string
	TTL         time.Duration
	DialTimeout time.Duration
}

// RedisCache is a cache-aside decorator over a Client. Redis failures
// degrade to calling the wrapped client.
type RedisCache struct {
	rdb    *redis.Client
	next   Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache connects to Redis and wraps next. The connection is checked
// with PING before returning.
func NewRedisCache(ctx context.Context, opts RedisOptions, next Client, logger *slog.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		DialTimeout: opts.DialTimeout,
		ReadTimeout: opts.DialTimeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &RedisCache{rdb: rdb, next: next, ttl: opts.TTL, logger: logger}, nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error { return c.rdb.Close() }

// Unwrap returns the wrapped client.
func (c *RedisCache) Unwrap() Client { return c.next }

// AddressInfo serves attribution from Redis, filling it on a miss.
func (c *RedisCache) AddressInfo(ctx context.Context, address, chain string) (*AddressInfo, error) {
	var info AddressInfo
	key := cacheKey(kindInfo, chain, address)
	if c.get(ctx, key, &info) {
		return &info, nil
	}
	res, err := c.next.AddressInfo(ctx, address, chain)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, res)
	return res, nil
}

// Assess serves assessments from Redis, filling it on a miss.
func (c *RedisCache) Assess(ctx context.Context, address, chain string) (*Assessment, error) {
	var a Assessment
	key := cacheKey(kindAssessment, chain, address)
	if c.get(ctx, key, &a) {
		return &a, nil
	}
	res, err := c.next.Assess(ctx, address, chain)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, res)
	return res, nil
}

func (c *RedisCache) get(ctx context.Context, key string, dst any) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RiskLookups.WithLabelValues("cache", "miss").Inc()
		return false
	}
	if err != nil {
		metrics.RiskLookups.WithLabelValues("cache", "error").Inc()
		c.logger.Warn("risk cache read failed", "key", key, "err", err)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		metrics.RiskLookups.WithLabelValues("cache", "error").Inc()
		c.logger.Warn("risk cache entry corrupt", "key", key, "err", err)
		return false
	}
	metrics.RiskLookups.WithLabelValues("cache", "hit").Inc()
	return true
}

func (c *RedisCache) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("risk cache encode failed", "key", key, "err", err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("risk cache write failed", "key", key, "err", err)
	}
}

func cacheKey(kind, chain, address string) string {
	return fmt.Sprintf("risk:%s:%s:%s", kind, strings.ToLower(chain), strings.ToLower(address))
}
