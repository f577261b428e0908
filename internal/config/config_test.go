package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8090, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, "memory", cfg.Vector.Backend)
	assert.Equal(t, 1536, cfg.Vector.Dimension)
	assert.Equal(t, 0.7, cfg.Vector.MinScore)
	assert.Equal(t, "EVOLVE", cfg.NATS.StreamName)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 90, cfg.Learning.RetentionDays)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.HTTPPort, cfg.Server.HTTPPort)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  http_port: 9000
database:
  type: postgres
  dsn: postgres://localhost/evolve
learning:
  roster: [manager, developer]
  retention_days: 30
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "postgres://localhost/evolve", cfg.Database.DSN)
	assert.Equal(t, []string{"manager", "developer"}, cfg.Learning.Roster)
	assert.Equal(t, 30, cfg.Learning.RetentionDays)
	// Untouched sections keep their defaults.
	assert.Equal(t, "EVOLVE", cfg.NATS.StreamName)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EVOLVE_HTTP_PORT", "7070")
	t.Setenv("EVOLVE_DB_DSN", "postgres://db/evolve")
	t.Setenv("EVOLVE_NATS_URL", "nats://nats:4222")
	t.Setenv("EVOLVE_REDIS_URL", "redis://cache:6379")
	t.Setenv("EVOLVE_VECTOR_BACKEND", "postgres")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "postgres://db/evolve", cfg.Database.DSN)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis://cache:6379", cfg.Cache.RedisURL)
	assert.Equal(t, "postgres", cfg.Vector.Backend)
}
