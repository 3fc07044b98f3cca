// Package config loads the collection cache configuration from layered
// sources: built-in defaults, an optional YAML file and COLLECTION_
// environment variables, in increasing priority.
//
// Nested keys are separated by a double underscore in variable names:
//
//	COLLECTION_CACHE__STALE_TIME=1m      -> cache.stale_time
//	COLLECTION_REALTIME__TRANSPORT=nats  -> realtime.transport
//	COLLECTION_REST__BASE_URL=https://.. -> rest.base_url
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/internal/logging"
	"github.com/goliatone/go-collection-cache/realtime"
	"github.com/goliatone/go-collection-cache/transport/rest"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "COLLECTION_"

// PathEnvVar overrides the config file path.
const PathEnvVar = "COLLECTION_CONFIG"

// DefaultPaths are searched in order when no path is given.
var DefaultPaths = []string{
	"collection.yaml",
	"collection.yml",
}

// Config aggregates every section.
type Config struct {
	Cache    cache.Config    `koanf:"cache"`
	REST     rest.Config     `koanf:"rest"`
	Realtime realtime.Config `koanf:"realtime"`
	Logging  logging.Config  `koanf:"logging"`
	Metrics  MetricsConfig   `koanf:"metrics"`
}

// MetricsConfig toggles the prometheus collectors.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Defaults returns the built-in configuration. REST and realtime are
// disabled until a base URL and a transport are set.
func Defaults() Config {
	return Config{
		Cache:    cache.DefaultConfig(),
		REST:     rest.DefaultConfig(),
		Realtime: realtime.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
		Metrics:  MetricsConfig{Enabled: true},
	}
}

// RESTEnabled reports whether a REST base URL is configured.
func (c Config) RESTEnabled() bool { return c.REST.BaseURL != "" }

// Validate checks every enabled section.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Cache),
		validation.Field(&c.REST, validation.Skip.When(!c.RESTEnabled())),
		validation.Field(&c.Realtime),
		validation.Field(&c.Logging),
	)
}

// Load reads the configuration. An empty path falls back to PathEnvVar and
// then DefaultPaths; a missing default file is not an error, a missing
// explicit path is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(PathEnvVar)
		explicit = path != ""
	}
	if explicit {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}

	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config file %s: %w", p, err)
		}
	}
	return "", nil
}

// envKey maps COLLECTION_CACHE__STALE_TIME to cache.stale_time.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
