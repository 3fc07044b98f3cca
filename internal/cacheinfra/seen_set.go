package cacheinfra

import (
	"sync"
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc backed seen set.
type Config struct {
	// Capacity is the maximum number of ids remembered at once.
	// Must be greater than 0 and at least NumShards.
	Capacity int `koanf:"capacity"`

	// NumShards determines the number of sturdyc shards. Must be greater than 0.
	NumShards int `koanf:"num_shards"`

	// TTL is how long an id is remembered. Must be greater than 0.
	TTL time.Duration `koanf:"ttl"`

	// EvictionPercentage is the share of entries evicted when a shard is full.
	// Must be between 1-100.
	EvictionPercentage int `koanf:"eviction_percentage"`

	// EvictionInterval sets how often expired ids are swept.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration `koanf:"eviction_interval"`
}

// DefaultConfig remembers up to 10000 ids for ten minutes.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          16,
		TTL:                10 * time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the Config to sturdyc options. Capacity,
// NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.Capacity < c.NumShards {
		return &ConfigError{Field: "Capacity", Message: "must be at least NumShards"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// SeenSet remembers opaque ids for a bounded time. It is used to drop
// realtime events that were already handled.
type SeenSet struct {
	mu     sync.Mutex
	client *sturdyc.Client[struct{}]
}

// NewSeenSet validates cfg and creates the sturdyc client.
func NewSeenSet(cfg Config) (*SeenSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[struct{}](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)
	return &SeenSet{client: client}, nil
}

// Mark records id and reports whether it was new. Concurrent calls with the
// same id return true exactly once. An empty id is always new.
func (s *SeenSet) Mark(id string) bool {
	if id == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.client.Get(id); ok {
		return false
	}
	s.client.Set(id, struct{}{})
	return true
}

// Seen reports whether id is remembered.
func (s *SeenSet) Seen(id string) bool {
	if id == "" {
		return false
	}
	_, ok := s.client.Get(id)
	return ok
}

// Forget removes id.
func (s *SeenSet) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client.Delete(id)
}

// Len returns the number of ids held, expired ones included until swept.
func (s *SeenSet) Len() int {
	return s.client.Size()
}
