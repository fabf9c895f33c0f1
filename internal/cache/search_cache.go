// Package cache keeps title search results in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikipath/internal/metrics"
)

// Searcher answers title substring queries.
type Searcher interface {
	SearchTitles(ctx context.Context, q string, limit int) ([]string, error)
}

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisSearchCache stores search results as JSON under prefix+limit+query keys.
type RedisSearchCache struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewRedisSearchCache connects to the Redis server at addr.
func NewRedisSearchCache(addr, prefix string, ttl time.Duration) *RedisSearchCache {
	return newRedisSearchCache(redis.NewClient(&redis.Options{Addr: addr}), prefix, ttl)
}

func newRedisSearchCache(client redisClient, prefix string, ttl time.Duration) *RedisSearchCache {
	return &RedisSearchCache{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the Redis client.
func (c *RedisSearchCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// Key returns the cache key for a query. Queries differing only in case share a key.
func (c *RedisSearchCache) Key(q string, limit int) string {
	return c.prefix + strconv.Itoa(limit) + ":" + strings.ToLower(q)
}

// Get returns cached titles for q. The boolean is false on a miss.
func (c *RedisSearchCache) Get(ctx context.Context, q string, limit int) ([]string, bool, error) {
	val, err := c.client.Get(ctx, c.Key(q, limit)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var titles []string
	if err := json.Unmarshal([]byte(val), &titles); err != nil {
		return nil, false, fmt.Errorf("decode cached titles: %w", err)
	}
	return titles, true, nil
}

// Set stores titles for q with the configured TTL.
func (c *RedisSearchCache) Set(ctx context.Context, q string, limit int, titles []string) error {
	if titles == nil {
		titles = []string{}
	}
	payload, err := json.Marshal(titles)
	if err != nil {
		return fmt.Errorf("encode titles: %w", err)
	}
	if err := c.client.Set(ctx, c.Key(q, limit), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CachedSearcher consults the cache before the wrapped Searcher. Cache failures are logged
// and never fail a search.
type CachedSearcher struct {
	next   Searcher
	cache  *RedisSearchCache
	logger *zap.Logger
}

// NewCachedSearcher wraps next with cache.
func NewCachedSearcher(next Searcher, cache *RedisSearchCache, logger *zap.Logger) *CachedSearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSearcher{next: next, cache: cache, logger: logger}
}

// SearchTitles implements Searcher.
func (s *CachedSearcher) SearchTitles(ctx context.Context, q string, limit int) ([]string, error) {
	titles, hit, err := s.cache.Get(ctx, q, limit)
	if err != nil {
		s.logger.Warn("search cache read failed", zap.String("query", q), zap.Error(err))
	}
	metrics.ObserveSearchCache(hit)
	if hit {
		return titles, nil
	}

	titles, err = s.next.SearchTitles(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, q, limit, titles); err != nil {
		s.logger.Warn("search cache write failed", zap.String("query", q), zap.Error(err))
	}
	return titles, nil
}
