package cache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config exposes store options for consumers of the cache package.
type Config struct {
	// StaleTime is how long fetched data is considered fresh.
	// Zero means data is stale as soon as it lands.
	StaleTime time.Duration `koanf:"stale_time"`

	// GCTime is how long an entry without subscribers is retained.
	GCTime time.Duration `koanf:"gc_time"`

	// RefetchInterval drives timer based background refresh of
	// subscribed collections. Zero disables it.
	RefetchInterval time.Duration `koanf:"refetch_interval"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StaleTime:       30 * time.Second,
		GCTime:          5 * time.Minute,
		RefetchInterval: 0,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.StaleTime, validation.Min(time.Duration(0))),
		validation.Field(&c.GCTime, validation.Min(time.Duration(0))),
		validation.Field(&c.RefetchInterval, validation.Min(time.Duration(0))),
	)
}
