package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values come from an optional
// YAML file with environment overrides on top; defaults cover local
// development.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Vector   VectorConfig   `yaml:"vector"`
	NATS     NATSConfig     `yaml:"nats"`
	Cache    CacheConfig    `yaml:"cache"`
	Learning LearningConfig `yaml:"learning"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	Type string `yaml:"type"` // "postgres" or "memory"
	DSN  string `yaml:"dsn"`
}

// VectorConfig configures the episode similarity index.
type VectorConfig struct {
	Backend   string  `yaml:"backend"` // "postgres" or "memory"
	Dimension int     `yaml:"dimension"`
	MinScore  float64 `yaml:"min_score"`
}

// NATSConfig configures the event publisher. An empty URL disables events.
type NATSConfig struct {
	URL        string        `yaml:"url"`
	StreamName string        `yaml:"stream_name"`
	Timeout    time.Duration `yaml:"timeout"`
}

// CacheConfig configures strategy caching.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Backend  string        `yaml:"backend"` // "memory" or "redis"
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// LearningConfig holds team-level learning parameters.
type LearningConfig struct {
	// Roster lists every agent on the team, used by the utilization check.
	Roster []string `yaml:"roster"`
	// RetentionDays is the episode retention window before consolidation.
	RetentionDays int `yaml:"retention_days"`
}

// Default returns the development configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8090,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "memory",
		},
		Vector: VectorConfig{
			Backend:   "memory",
			Dimension: 1536,
			MinScore:  0.7,
		},
		NATS: NATSConfig{
			StreamName: "EVOLVE",
			Timeout:    10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "memory",
			TTL:     5 * time.Minute,
		},
		Learning: LearningConfig{
			RetentionDays: 90,
		},
	}
}

// Load reads configuration from an optional YAML file and applies
// environment overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EVOLVE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}
	if v := os.Getenv("EVOLVE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
		cfg.Database.Type = "postgres"
	}
	if v := os.Getenv("EVOLVE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("EVOLVE_REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
		cfg.Cache.Backend = "redis"
	}
	if v := os.Getenv("EVOLVE_VECTOR_BACKEND"); v != "" {
		cfg.Vector.Backend = v
	}
}
