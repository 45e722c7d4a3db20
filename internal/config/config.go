package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config carries all runtime settings. Values come from the environment,
// optionally seeded from a .env file during development.
type Config struct {
	Addr string `env:"OPENLOT_ADDR" envDefault:":8080"`

	// PostgresDSN selects the durable store; empty falls back to the
	// in-memory engine (single-instance/demo mode).
	PostgresDSN string `env:"OPENLOT_PG_DSN"`

	// CommitAttempts bounds the bid-commit retry loop on serialization
	// conflicts.
	CommitAttempts int `env:"OPENLOT_COMMIT_ATTEMPTS" envDefault:"3"`

	RateBurst  int `env:"OPENLOT_RATE_BURST" envDefault:"40"`
	RatePerSec int `env:"OPENLOT_RATE_PER_SEC" envDefault:"20"`

	ShutdownTimeout time.Duration `env:"OPENLOT_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Demo seeds the in-memory engine with a live example auction so the
	// API is usable without external provisioning. Ignored with a DSN.
	Demo bool `env:"OPENLOT_DEMO" envDefault:"false"`

	Redis struct {
		// Addr enables cross-instance bid-event fan-out when set.
		Addr     string `env:"OPENLOT_REDIS_ADDR"`
		Password string `env:"OPENLOT_REDIS_PASSWORD"`
		DB       int    `env:"OPENLOT_REDIS_DB" envDefault:"0"`
	}
}

// Load reads the environment into a Config. A missing .env file is not an
// error; production sets variables directly.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.CommitAttempts < 1 {
		cfg.CommitAttempts = 1
	}
	return cfg, nil
}
