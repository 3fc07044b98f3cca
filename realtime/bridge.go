package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/internal/cacheinfra"
	"github.com/goliatone/go-collection-cache/internal/logging"
	"github.com/goliatone/go-collection-cache/internal/metrics"
)

// EventSource is the subscription side of a Session.
type EventSource interface {
	On(event string, h Handler) (cancel func())
	OnReconnect(fn func()) (cancel func())
}

// Bridge turns realtime events into cache invalidations.
//
// Every event is applied at most once per event id: duplicates are dropped
// before they touch the store or the unread counters. After a reconnect all
// subscribed entries are invalidated once, since events sent while the
// connection was down are lost.
type Bridge struct {
	source  EventSource
	store   *cache.Store
	catalog Catalog
	seen    *cacheinfra.SeenSet
	log     zerolog.Logger
	metrics *metrics.Bridge

	mu       sync.Mutex
	cancels  []func()
	unread   map[string]int
	onUnread []func(route string, count int)
}

// BridgeOption customizes a Bridge.
type BridgeOption func(*Bridge)

// WithSeenSet replaces the default event id set.
func WithSeenSet(s *cacheinfra.SeenSet) BridgeOption {
	return func(b *Bridge) {
		if s != nil {
			b.seen = s
		}
	}
}

// WithBridgeLogger sets the bridge logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithBridgeLogger(l zerolog.Logger) BridgeOption {
	return func(b *Bridge) { b.log = l }
}

// WithBridgeMetrics attaches prometheus collectors.
func WithBridgeMetrics(m *metrics.Bridge) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// NewBridge validates catalog and returns a detached bridge.
func NewBridge(source EventSource, store *cache.Store, catalog Catalog, opts ...BridgeOption) (*Bridge, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}

	b := &Bridge{
		source:  source,
		store:   store,
		catalog: append(Catalog(nil), catalog...),
		log:     logging.Component("realtime.bridge"),
		unread:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.seen == nil {
		seen, err := cacheinfra.NewSeenSet(cacheinfra.DefaultConfig())
		if err != nil {
			return nil, err
		}
		b.seen = seen
	}
	return b, nil
}

// Attach registers the catalog handlers and the reconnect hook. Calling it
// on an attached bridge is a no-op.
func (b *Bridge) Attach() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.cancels) > 0 {
		return
	}
	for _, binding := range b.catalog {
		binding := binding
		b.cancels = append(b.cancels, b.source.On(binding.Event, func(env Envelope) {
			b.handle(binding, env)
		}))
	}
	b.cancels = append(b.cancels, b.source.OnReconnect(b.resync))
}

// Detach removes every handler registered by Attach.
func (b *Bridge) Detach() {
	b.mu.Lock()
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Unread returns the unread counter of a routed parent, such as a
// conversation id.
func (b *Bridge) Unread(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unread[route]
}

// OnUnread registers fn to run whenever an unread counter changes.
func (b *Bridge) OnUnread(fn func(route string, count int)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.onUnread = append(b.onUnread, fn)
	b.mu.Unlock()
}

func (b *Bridge) handle(binding Binding, env Envelope) {
	if id := env.EventID(); id != "" && !b.seen.Mark(env.Type+"|"+id) {
		b.metrics.Duplicate()
		b.log.Debug().Str("event", env.Type).Str("id", id).Msg("duplicate event dropped")
		return
	}
	b.metrics.Event(env.Type)

	switch binding.Kind {
	case KindMessageCreated:
		b.bumpUnread(env.Payload.String(binding.Route), 1)
	case KindMessageRead:
		b.bumpUnread(env.Payload.String(binding.Route), 0)
	}

	n := b.store.Invalidate(Targets(binding, env.Payload))
	b.log.Debug().Str("event", env.Type).Str("kind", binding.Kind.String()).Int("entries", n).Msg("event applied")
}

// bumpUnread adds delta to the counter of route, or resets it when delta
// is zero.
func (b *Bridge) bumpUnread(route string, delta int) {
	if route == "" {
		return
	}

	b.mu.Lock()
	if delta == 0 {
		delete(b.unread, route)
	} else {
		b.unread[route] += delta
	}
	count := b.unread[route]
	fns := make([]func(string, int), len(b.onUnread))
	copy(fns, b.onUnread)
	b.mu.Unlock()

	for _, fn := range fns {
		fn(route, count)
	}
}

func (b *Bridge) resync() {
	n := b.store.InvalidateSubscribed()
	b.log.Info().Int("entries", n).Msg("invalidated subscribed entries after reconnect")
}
