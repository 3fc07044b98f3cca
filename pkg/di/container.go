// Package di wires the collection cache components from a config.Config.
//
// The container owns one store and one key builder per process, plus the
// optional REST client and realtime session with its bridge. Typed
// components (collections, coordinators, repository sources) are created
// through the package level factories since Go methods cannot take type
// parameters.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/collection"
	"github.com/goliatone/go-collection-cache/filters"
	"github.com/goliatone/go-collection-cache/internal/cacheinfra"
	"github.com/goliatone/go-collection-cache/internal/logging"
	"github.com/goliatone/go-collection-cache/internal/metrics"
	"github.com/goliatone/go-collection-cache/optimistic"
	"github.com/goliatone/go-collection-cache/pkg/config"
	"github.com/goliatone/go-collection-cache/realtime"
	"github.com/goliatone/go-collection-cache/repositorysource"
	"github.com/goliatone/go-collection-cache/transport/rest"
)

// ErrRESTDisabled is returned when a REST backed component is requested
// without a configured base URL.
var ErrRESTDisabled = errors.New("di: rest client is not configured")

// Option customizes a Container.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	transport  realtime.Transport
	catalog    realtime.Catalog
	logger     *zerolog.Logger
}

// WithRegisterer registers the collectors on r instead of a private registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithTransport replaces the transport selected by the realtime config.
func WithTransport(t realtime.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithCatalog replaces the default realtime event catalog.
func WithCatalog(c realtime.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithLogger replaces the logger built from the logging config.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// Container holds the process wide components.
type Container struct {
	config   config.Config
	log      zerolog.Logger
	registry *prometheus.Registry

	store   *cache.Store
	keys    cache.KeyBuilder
	rest    *rest.Client
	session *realtime.Session
	bridge  *realtime.Bridge
}

// NewContainer validates cfg and builds every enabled component. A
// configured realtime bridge is attached but the session only connects once
// Run is called.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{catalog: realtime.DefaultCatalog()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{config: cfg, keys: cache.NewKeyBuilder()}
	if o.logger != nil {
		c.log = *o.logger
	} else {
		c.log = logging.New(cfg.Logging)
	}

	var (
		storeMetrics  *metrics.Store
		bridgeMetrics *metrics.Bridge
	)
	if cfg.Metrics.Enabled {
		reg := o.registerer
		if reg == nil {
			c.registry = prometheus.NewRegistry()
			reg = c.registry
		}
		storeMetrics = metrics.NewStore(reg)
		bridgeMetrics = metrics.NewBridge(reg)
	}

	store, err := cache.NewStore(cfg.Cache,
		cache.WithLogger(c.log.With().Str("component", "store").Logger()),
		cache.WithMetrics(storeMetrics),
	)
	if err != nil {
		return nil, err
	}
	c.store = store

	if cfg.RESTEnabled() {
		client, err := rest.NewClient(cfg.REST, rest.WithLogger(c.log.With().Str("component", "rest").Logger()))
		if err != nil {
			store.Dispose()
			return nil, err
		}
		c.rest = client
	}

	if cfg.Realtime.Enabled() || o.transport != nil {
		if err := c.wireRealtime(cfg.Realtime, o, bridgeMetrics); err != nil {
			store.Dispose()
			return nil, err
		}
	}

	c.log.Debug().
		Bool("rest", c.rest != nil).
		Bool("realtime", c.session != nil).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("container ready")
	return c, nil
}

// NewContainerWithDefaults builds a container with config.Defaults: a store
// and key builder only.
func NewContainerWithDefaults() (*Container, error) {
	return NewContainer(config.Defaults())
}

func (c *Container) wireRealtime(cfg realtime.Config, o options, m *metrics.Bridge) error {
	transport := o.transport
	if transport == nil {
		switch cfg.Transport {
		case realtime.TransportWebsocket:
			transport = realtime.NewWebsocketTransport(cfg.URL, realtime.WithPingInterval(cfg.PingInterval))
		case realtime.TransportNATS:
			transport = realtime.NewNATSTransport(cfg.URL, cfg.Subject)
		default:
			return fmt.Errorf("unknown realtime transport %q", cfg.Transport)
		}
	}

	params := url.Values{}
	for k, v := range cfg.Params {
		params.Set(k, v)
	}

	backoffCfg := cfg.Backoff
	c.session = realtime.NewSession(transport, params,
		realtime.WithBackoff(func() backoff.BackOff { return backoffCfg.NewBackOff() }),
		realtime.WithSessionLogger(c.log.With().Str("component", "realtime.session").Logger()),
		realtime.WithSessionMetrics(m),
	)

	seen, err := cacheinfra.NewSeenSet(cfg.Dedup)
	if err != nil {
		return err
	}
	bridge, err := realtime.NewBridge(c.session, c.store, o.catalog,
		realtime.WithSeenSet(seen),
		realtime.WithBridgeLogger(c.log.With().Str("component", "realtime.bridge").Logger()),
		realtime.WithBridgeMetrics(m),
	)
	if err != nil {
		return err
	}
	bridge.Attach()
	c.bridge = bridge
	return nil
}

// Config returns the configuration the container was built with.
func (c *Container) Config() config.Config { return c.config }

// Store returns the shared cache store.
func (c *Container) Store() *cache.Store { return c.store }

// Keys returns the shared key builder.
func (c *Container) Keys() cache.KeyBuilder { return c.keys }

// REST returns the REST client, nil when not configured.
func (c *Container) REST() *rest.Client { return c.rest }

// Session returns the realtime session, nil when not configured.
func (c *Container) Session() *realtime.Session { return c.session }

// Bridge returns the realtime bridge, nil when not configured.
func (c *Container) Bridge() *realtime.Bridge { return c.bridge }

// Gatherer exposes the private metrics registry. It is nil when metrics are
// disabled or registered on an external Registerer.
func (c *Container) Gatherer() prometheus.Gatherer {
	if c.registry == nil {
		return nil
	}
	return c.registry
}

// Run keeps the realtime session connected until ctx is done. Without
// realtime it only waits for ctx.
func (c *Container) Run(ctx context.Context) error {
	if c.session == nil {
		<-ctx.Done()
		return nil
	}
	return c.session.Run(ctx)
}

// Close detaches the bridge and disposes the store.
func (c *Container) Close() {
	if c.bridge != nil {
		c.bridge.Detach()
	}
	c.store.Dispose()
}

// NewCollection creates a collection of resource listed through the REST
// client.
func NewCollection[T any](c *Container, resource string, schema *filters.Schema, opts ...collection.Option) (*collection.Collection[T], error) {
	if c.rest == nil {
		return nil, ErrRESTDisabled
	}
	return collection.New[T](c.store, c.keys, resource, schema, rest.NewSource[T](c.rest), opts...)
}

// NewCollectionFrom creates a collection of resource listed through source.
func NewCollectionFrom[T any](c *Container, resource string, schema *filters.Schema, source collection.Source[T], opts ...collection.Option) (*collection.Collection[T], error) {
	return collection.New[T](c.store, c.keys, resource, schema, source, opts...)
}

// NewCoordinator creates an optimistic mutation coordinator on the shared
// store.
func NewCoordinator[T any](c *Container, idOf func(T) string, opts ...optimistic.Option) *optimistic.Coordinator[T] {
	opts = append([]optimistic.Option{optimistic.WithLogger(c.log.With().Str("component", "optimistic").Logger())}, opts...)
	return optimistic.New(c.store, idOf, opts...)
}

// NewRepositorySource creates a source over repo whose writes invalidate the
// cached pages of resource.
func NewRepositorySource[T any](c *Container, repo repositorysource.Repository[T], resource string, schema *filters.Schema, opts ...repositorysource.Option) *repositorysource.Source[T] {
	opts = append([]repositorysource.Option{repositorysource.WithStore(c.store, resource)}, opts...)
	return repositorysource.New(repo, schema, opts...)
}
