package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elfworks/evolve/internal/metrics"
	"github.com/elfworks/evolve/pkg/models"
)

// RedisCache is a StrategyCache backed by Redis, for deployments where
// multiple service instances should share cached strategies.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl, metrics: metrics.NewMetrics()}, nil
}

// Get implements StrategyCache. Redis errors count as misses.
func (c *RedisCache) Get(ctx context.Context, teamName, taskType string) (*models.Strategy, bool) {
	data, err := c.client.Get(ctx, cacheKey(teamName, taskType)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("Redis get failed: %v", err)
		}
		c.metrics.CacheMisses.Inc()
		return nil, false
	}

	var strategy models.Strategy
	if err := json.Unmarshal(data, &strategy); err != nil {
		c.metrics.CacheMisses.Inc()
		return nil, false
	}
	c.metrics.CacheHits.Inc()
	return &strategy, true
}

// Set implements StrategyCache. Failures are logged; caching is advisory.
func (c *RedisCache) Set(ctx context.Context, teamName, taskType string, strategy *models.Strategy) {
	data, err := json.Marshal(strategy)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(teamName, taskType), data, c.ttl).Err(); err != nil {
		log.Printf("Redis set failed: %v", err)
	}
}

// Invalidate drops every cached strategy for a team.
func (c *RedisCache) Invalidate(ctx context.Context, teamName string) {
	pattern := cacheKey(teamName, "*")
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("Redis scan failed: %v", err)
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			log.Printf("Redis del failed: %v", err)
		}
	}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
