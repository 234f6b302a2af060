package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Feed backends understood by FeedBackend.
const (
	FeedMemory   = "memory"
	FeedRedis    = "redis"
	FeedPostgres = "postgres"
)

type Config struct {
	// HTTP gateway
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Shared store
	FeedBackend string `env:"FEED_BACKEND" envDefault:"memory"`
	FeedPrefix  string `env:"FEED_PREFIX" envDefault:"feed"`
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DB_URL"`
	RunMigrate  bool   `env:"DB_MIGRATE" envDefault:"true"`

	// Background jobs (asynq, backed by REDIS_URL)
	QueueEnabled       bool   `env:"QUEUE_ENABLED" envDefault:"false"`
	AsynqConcurrency   int    `env:"ASYNQ_CONCURRENCY" envDefault:"10"`
	AsynqQueues        string `env:"ASYNQ_QUEUES" envDefault:"default=1,chat=1"`
	PresenceSweepEvery string `env:"PRESENCE_SWEEP_SPEC" envDefault:"@every 1m"`

	SearchCacheTTL time.Duration `env:"SEARCH_CACHE_TTL" envDefault:"15s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env not loaded", "error", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every enabled backend has the connection settings it needs.
func (c *Config) Validate() error {
	c.FeedBackend = strings.ToLower(strings.TrimSpace(c.FeedBackend))
	switch c.FeedBackend {
	case FeedMemory:
	case FeedRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL is required for the redis feed")
		}
	case FeedPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DB_URL is required for the postgres feed")
		}
	default:
		return fmt.Errorf("config: unknown FEED_BACKEND %q", c.FeedBackend)
	}
	if c.QueueEnabled && c.RedisURL == "" {
		return errors.New("config: REDIS_URL is required when QUEUE_ENABLED is set")
	}
	if c.AsynqConcurrency <= 0 {
		c.AsynqConcurrency = 10
	}
	return nil
}
