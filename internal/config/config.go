// Package config defines process configuration for the backfill CLI and the
// server. Values layer defaults, an optional YAML file and RAPM_ environment
// variables; see Load.
package config

import (
	"time"

	"github.com/fortuna/rapm/internal/ingest"
	"github.com/fortuna/rapm/internal/ingest/pbp"
	"github.com/fortuna/rapm/internal/store"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address of the server, e.g. ":8085".
	Addr string `koanf:"addr"`

	Provider ProviderConfig `koanf:"provider"`
	Fetch    FetchConfig    `koanf:"fetch"`
	Cache    CacheConfig    `koanf:"cache"`
	Database DatabaseConfig `koanf:"database"`
	Stream   StreamConfig   `koanf:"stream"`
	Run      RunConfig      `koanf:"run"`
}

// ProviderConfig points at the play-by-play provider.
type ProviderConfig struct {
	BaseURL        string        `koanf:"base_url"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	UserAgent      string        `koanf:"user_agent"`
}

// FetchConfig controls request pacing and retries.
type FetchConfig struct {
	PoliteDelay    time.Duration `koanf:"polite_delay"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	BackoffFactor  float64       `koanf:"backoff_factor"`
	MaxAttempts    int           `koanf:"max_attempts"`
}

// Ingest converts to the fetcher configuration.
func (f FetchConfig) Ingest() ingest.Config {
	return ingest.Config{
		PoliteDelay:    f.PoliteDelay,
		InitialBackoff: f.InitialBackoff,
		BackoffFactor:  f.BackoffFactor,
		MaxAttempts:    f.MaxAttempts,
	}
}

// CacheConfig selects the raw game cache. RedisURL wins over Dir; both empty
// disables caching.
type CacheConfig struct {
	Dir      string        `koanf:"dir"`
	RedisURL string        `koanf:"redis_url"`
	TTL      time.Duration `koanf:"ttl"`
}

// DatabaseConfig configures the Postgres store. An empty DSN disables persistence.
type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	Migrate         bool          `koanf:"migrate"`
}

// Pool converts to the store pool settings.
func (d DatabaseConfig) Pool() store.PoolConfig {
	pool := store.DefaultPoolConfig()
	if d.MaxOpenConns > 0 {
		pool.MaxOpenConns = d.MaxOpenConns
	}
	if d.MaxIdleConns > 0 {
		pool.MaxIdleConns = d.MaxIdleConns
	}
	if d.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = d.ConnMaxLifetime
	}
	return pool
}

// StreamConfig configures the Redis outcome stream. An empty RedisURL disables it.
type StreamConfig struct {
	RedisURL string `koanf:"redis_url"`
	Name     string `koanf:"name"`
}

// RunConfig holds run policy.
type RunConfig struct {
	FailOnAnomaly bool `koanf:"fail_on_anomaly"`
	AllowBadGames bool `koanf:"allow_bad_games"`
}

// New returns a Config with defaults.
func New() *Config {
	fetch := ingest.DefaultConfig()
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":8085",
		Provider: ProviderConfig{
			BaseURL:        pbp.BaseURL,
			RequestTimeout: 30 * time.Second,
			UserAgent:      pbp.UserAgent,
		},
		Fetch: FetchConfig{
			PoliteDelay:    fetch.PoliteDelay,
			InitialBackoff: fetch.InitialBackoff,
			BackoffFactor:  fetch.BackoffFactor,
			MaxAttempts:    fetch.MaxAttempts,
		},
		Cache: CacheConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Migrate: true,
		},
		Stream: StreamConfig{
			Name: "rapm.games",
		},
	}
}
