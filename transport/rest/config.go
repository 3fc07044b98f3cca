package rest

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, such as https://api.example.com/v1.
	BaseURL string `koanf:"base_url"`

	// Timeout bounds each request, including reading the body.
	Timeout time.Duration `koanf:"timeout"`

	// MaxBodyBytes caps the response body read from the API.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// Headers are sent with every request.
	Headers map[string]string `koanf:"headers"`

	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of the API.
type BreakerConfig struct {
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32 `koanf:"max_requests"`

	// Interval clears the counts while closed. Zero never clears them.
	Interval time.Duration `koanf:"interval"`

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `koanf:"timeout"`

	// MinRequests is the sample size needed before the breaker can trip.
	MinRequests uint32 `koanf:"min_requests"`

	// FailureRatio of failed requests over the current interval trips the
	// breaker once at least MinRequests were counted.
	FailureRatio float64 `koanf:"failure_ratio"`
}

// DefaultConfig returns a config without a base URL.
func DefaultConfig() Config {
	return Config{
		Timeout:      15 * time.Second,
		MaxBodyBytes: 10 << 20,
		Breaker: BreakerConfig{
			MaxRequests:  3,
			Interval:     time.Minute,
			Timeout:      30 * time.Second,
			MinRequests:  10,
			FailureRatio: 0.6,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxBodyBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Breaker),
	)
}

// Validate checks the breaker settings.
func (b BreakerConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.MaxRequests, validation.Required, validation.Min(uint32(1))),
		validation.Field(&b.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&b.FailureRatio, validation.Required, validation.Min(0.0), validation.Max(1.0)),
	)
}

func (b BreakerConfig) settings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: b.MaxRequests,
		Interval:    b.Interval,
		Timeout:     b.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= b.FailureRatio
		},
		// Client errors mean the API is up.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *StatusError
			return asStatusError(err, &se) && se.Code < 500
		},
	}
}
