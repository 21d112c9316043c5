package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RAPM_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) at path, or RAPM_CONFIG when path is empty
//  3. env (prefix RAPM_, "__" separates nested keys: RAPM_FETCH__MAX_ATTEMPTS)
func Load(path string) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would make the fetcher or server misbehave.
func (c *Config) Validate() error {
	switch {
	case c.Provider.BaseURL == "":
		return fmt.Errorf("%w: provider.base_url must not be empty", ErrInvalidConfig)
	case c.Fetch.MaxAttempts < 1:
		return fmt.Errorf("%w: fetch.max_attempts must be at least 1", ErrInvalidConfig)
	case c.Fetch.BackoffFactor < 1:
		return fmt.Errorf("%w: fetch.backoff_factor must be at least 1", ErrInvalidConfig)
	case c.Fetch.PoliteDelay < 0 || c.Fetch.InitialBackoff < 0:
		return fmt.Errorf("%w: fetch delays must not be negative", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidConfig)
	}
	return nil
}
