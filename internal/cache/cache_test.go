package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elfworks/evolve/pkg/models"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	strategy := &models.Strategy{TaskType: "development", Confidence: 0.8}

	t.Run("miss then hit", func(t *testing.T) {
		_, ok := c.Get(ctx, "team-a", "development")
		assert.False(t, ok)

		c.Set(ctx, "team-a", "development", strategy)
		got, ok := c.Get(ctx, "team-a", "development")
		require.True(t, ok)
		assert.Equal(t, strategy, got)
	})

	t.Run("keys are team scoped", func(t *testing.T) {
		_, ok := c.Get(ctx, "team-b", "development")
		assert.False(t, ok)
	})

	t.Run("invalidate drops only the team", func(t *testing.T) {
		c.Set(ctx, "team-a", "debugging", strategy)
		c.Set(ctx, "team-b", "development", strategy)

		c.Invalidate(ctx, "team-a")

		_, ok := c.Get(ctx, "team-a", "development")
		assert.False(t, ok)
		_, ok = c.Get(ctx, "team-a", "debugging")
		assert.False(t, ok)
		_, ok = c.Get(ctx, "team-b", "development")
		assert.True(t, ok)
	})
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Millisecond)

	c.Set(ctx, "team-a", "development", &models.Strategy{TaskType: "development"})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(ctx, "team-a", "development")
	assert.False(t, ok)
}

func TestMemoryCacheDefaultTTL(t *testing.T) {
	c := NewMemoryCache(0)
	assert.Equal(t, 5*time.Minute, c.ttl)
}
