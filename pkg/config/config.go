// Package config loads service configuration from the environment,
// 12-factor style, with an optional YAML profile for per-tenant guard
// expressions.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the ratchetd server configuration.
type Config struct {
	Addr        string `env:"RATCHET_ADDR" envDefault:":8080"`
	Environment string `env:"RATCHET_ENV" envDefault:"development"`
	LogLevel    string `env:"RATCHET_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"RATCHET_LOG_FORMAT" envDefault:"json"`

	// Ledger backend: memory, sqlite, or postgres.
	LedgerBackend string `env:"RATCHET_LEDGER_BACKEND" envDefault:"memory"`
	DatabaseURL   string `env:"RATCHET_DATABASE_URL" envDefault:"postgres://ratchet@localhost:5432/ratchet?sslmode=disable"`
	SQLitePath    string `env:"RATCHET_SQLITE_PATH" envDefault:"ratchet.db"`

	// RedisURL enables the Redis-backed run registry; empty keeps the
	// in-memory one.
	RedisURL string `env:"RATCHET_REDIS_URL"`

	// CatalogPath optionally replaces the built-in action catalog.
	CatalogPath string `env:"RATCHET_CATALOG_PATH"`
	// ProfilePath optionally loads tenant guard expressions.
	ProfilePath string `env:"RATCHET_PROFILE_PATH"`

	OTLPEndpoint     string `env:"RATCHET_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	TelemetryEnabled bool   `env:"RATCHET_TELEMETRY_ENABLED" envDefault:"false"`

	RateLimitRPS   int `env:"RATCHET_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int `env:"RATCHET_RATE_LIMIT_BURST" envDefault:"100"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	switch cfg.LedgerBackend {
	case "memory", "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("config: unknown ledger backend %q", cfg.LedgerBackend)
	}
	return cfg, nil
}
