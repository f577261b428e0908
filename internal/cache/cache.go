package cache

import (
	"context"
	"sync"
	"time"

	"github.com/elfworks/evolve/internal/metrics"
	"github.com/elfworks/evolve/pkg/models"
)

// StrategyCache stores synthesized strategies so repeated reads within the
// TTL skip re-aggregation. Strategies are derived data, so staleness within
// the TTL is acceptable.
type StrategyCache interface {
	Get(ctx context.Context, teamName, taskType string) (*models.Strategy, bool)
	Set(ctx context.Context, teamName, taskType string, strategy *models.Strategy)
	Invalidate(ctx context.Context, teamName string)
	Close() error
}

func cacheKey(teamName, taskType string) string {
	return "strategy:" + teamName + ":" + taskType
}

type memoryEntry struct {
	strategy  *models.Strategy
	teamName  string
	expiresAt time.Time
}

// MemoryCache is the in-process StrategyCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewMemoryCache creates a memory cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		metrics: metrics.NewMetrics(),
	}
}

// Get implements StrategyCache.
func (c *MemoryCache) Get(_ context.Context, teamName, taskType string) (*models.Strategy, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey(teamName, taskType)]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		c.metrics.CacheMisses.Inc()
		return nil, false
	}
	c.metrics.CacheHits.Inc()
	return entry.strategy, true
}

// Set implements StrategyCache.
func (c *MemoryCache) Set(_ context.Context, teamName, taskType string, strategy *models.Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(teamName, taskType)] = memoryEntry{
		strategy:  strategy,
		teamName:  teamName,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate drops every cached strategy for a team. Called after new
// episodes land so the next synthesis sees them.
func (c *MemoryCache) Invalidate(_ context.Context, teamName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if entry.teamName == teamName {
			delete(c.entries, key)
		}
	}
}

// Close implements StrategyCache.
func (c *MemoryCache) Close() error {
	return nil
}
