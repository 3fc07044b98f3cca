package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-collection-cache/internal/cacheinfra"
)

// Transport names accepted by Config.
const (
	TransportNone      = ""
	TransportWebsocket = "websocket"
	TransportNATS      = "nats"
)

// BackoffConfig is the reconnect policy. Retries never stop.
type BackoffConfig struct {
	InitialInterval     time.Duration `koanf:"initial_interval"`
	MaxInterval         time.Duration `koanf:"max_interval"`
	Multiplier          float64       `koanf:"multiplier"`
	RandomizationFactor float64       `koanf:"randomization_factor"`
}

// DefaultBackoffConfig starts at one second and caps at thirty.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval:     time.Second,
		MaxInterval:         30 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

// NewBackOff builds the cenkalti policy for one session.
func (c BackoffConfig) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Validate checks the policy values.
func (c BackoffConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.InitialInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxInterval, validation.Required, validation.Min(c.InitialInterval)),
		validation.Field(&c.Multiplier, validation.Required, validation.Min(1.0)),
		validation.Field(&c.RandomizationFactor, validation.Min(0.0), validation.Max(1.0)),
	)
}

// Config configures the realtime connection and its bridge.
type Config struct {
	// Transport selects websocket, nats or none.
	Transport string `koanf:"transport"`

	// URL of the websocket endpoint or NATS server.
	URL string `koanf:"url"`

	// Subject is the NATS subject. Placeholders like {userId} are filled
	// from Params.
	Subject string `koanf:"subject"`

	// Params are sent on every connection attempt.
	Params map[string]string `koanf:"params"`

	// PingInterval is the websocket keepalive period. Zero disables pings.
	PingInterval time.Duration `koanf:"ping_interval"`

	Backoff BackoffConfig     `koanf:"backoff"`
	Dedup   cacheinfra.Config `koanf:"dedup"`
}

// DefaultConfig leaves realtime disabled.
func DefaultConfig() Config {
	return Config{
		Transport:    TransportNone,
		PingInterval: 30 * time.Second,
		Backoff:      DefaultBackoffConfig(),
		Dedup:        cacheinfra.DefaultConfig(),
	}
}

// Enabled reports whether a transport is configured.
func (c Config) Enabled() bool { return c.Transport != TransportNone }

// Validate checks the configuration. Nested sections are only validated
// when a transport is enabled.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Transport, validation.In(TransportNone, TransportWebsocket, TransportNATS)),
		validation.Field(&c.URL, validation.When(c.Enabled(), validation.Required)),
		validation.Field(&c.Subject, validation.When(c.Transport == TransportNATS, validation.Required)),
		validation.Field(&c.PingInterval, validation.Min(time.Duration(0))),
	)
	if err != nil || !c.Enabled() {
		return err
	}
	if err := c.Backoff.Validate(); err != nil {
		return err
	}
	return c.Dedup.Validate()
}
