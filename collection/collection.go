// Package collection binds a filter schema, pagination, cache keys and a
// remote Source into the list query used by collection views.
//
// A Collection owns the filter and page state of one view. Every state
// change yields a new cache key, so switching back to a page or filter
// combination that is still fresh is served from the store without a
// remote call.
package collection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/filters"
	"github.com/goliatone/go-collection-cache/internal/logging"
	"github.com/goliatone/go-collection-cache/pagination"
)

// Errors returned by New.
var (
	ErrNilStore  = errors.New("collection: store is nil")
	ErrNilSource = errors.New("collection: source is nil")
)

// Source lists one page of a remote collection. query is the flat filter
// representation produced by the schema and always carries page and limit.
type Source[T any] interface {
	List(ctx context.Context, resource string, query map[string]string) (cache.Page[T], error)
}

// SourceFunc adapts a function to Source.
type SourceFunc[T any] func(ctx context.Context, resource string, query map[string]string) (cache.Page[T], error)

// List implements Source.
func (f SourceFunc[T]) List(ctx context.Context, resource string, query map[string]string) (cache.Page[T], error) {
	return f(ctx, resource, query)
}

// Option customizes a Collection.
type Option func(*options)

type options struct {
	interval  time.Duration
	fetchOpts []cache.FetchOption
	log       *zerolog.Logger
}

// WithRefetchInterval makes Run refresh the current page every d. It
// defaults to the store RefetchInterval.
func WithRefetchInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithFetchOptions passes per entry freshness overrides to the store.
func WithFetchOptions(opts ...cache.FetchOption) Option {
	return func(o *options) { o.fetchOpts = append(o.fetchOpts, opts...) }
}

// WithLogger sets the collection logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = &l }
}

// Collection is the list query of one remote resource.
type Collection[T any] struct {
	store    *cache.Store
	keys     cache.KeyBuilder
	schema   *filters.Schema
	source   Source[T]
	resource string
	pager    *pagination.Controller
	opts     options
	log      zerolog.Logger

	mu      sync.Mutex
	filters filters.Set
	open    bool
	held    cache.Key
}

// New returns a collection of resource at page 1 with default filters.
// Paging fields are added to schema when it does not declare them.
func New[T any](store *cache.Store, keys cache.KeyBuilder, resource string, schema *filters.Schema, source Source[T], opts ...Option) (*Collection[T], error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if source == nil {
		return nil, ErrNilSource
	}
	if keys == nil {
		keys = cache.NewKeyBuilder()
	}
	if schema == nil {
		schema = filters.NewSchema()
	}
	schema = withPaging(schema)

	o := options{interval: store.Config().RefetchInterval}
	for _, opt := range opts {
		opt(&o)
	}

	limit, _ := schema.Defaults()[filters.LimitField].(int)
	c := &Collection[T]{
		store:    store,
		keys:     keys,
		schema:   schema,
		source:   source,
		resource: resource,
		pager:    pagination.New(limit),
		opts:     o,
		filters:  schema.WithoutPaging(nil),
		log:      logging.Component("collection").With().Str("resource", resource).Logger(),
	}
	if o.log != nil {
		c.log = *o.log
	}
	c.pager.OnFiltersChanged(c.filters)

	if _, err := c.Key(); err != nil {
		return nil, err
	}
	return c, nil
}

func withPaging(s *filters.Schema) *filters.Schema {
	_, hasPage := s.Field(filters.PageField)
	_, hasLimit := s.Field(filters.LimitField)
	if hasPage && hasLimit {
		return s
	}
	return filters.NewSchema(append(filters.Paging(pagination.DefaultLimit), s.Fields()...)...)
}

// Schema returns the schema in use, paging fields included.
func (c *Collection[T]) Schema() *filters.Schema { return c.schema }

// Resource returns the resource name.
func (c *Collection[T]) Resource() string { return c.resource }

// SetFilters replaces the filters with the normalized form of raw. A change
// in any non paging field resets the page to 1. Page and limit found in raw
// are applied, the page only when no other filter changed.
// It reports whether the query changed.
func (c *Collection[T]) SetFilters(raw map[string]any) bool {
	before := c.Query()

	normalized := c.schema.Normalize(raw)
	next := c.schema.WithoutPaging(normalized)

	c.mu.Lock()
	c.filters = next
	c.mu.Unlock()

	reset := c.pager.OnFiltersChanged(next)
	if _, ok := raw[filters.LimitField]; ok {
		if n, ok := normalized[filters.LimitField].(int); ok {
			c.pager.SetLimit(n)
		}
	}
	if _, ok := raw[filters.PageField]; ok && !reset {
		if n, ok := normalized[filters.PageField].(int); ok {
			c.pager.SetPage(n)
		}
	}

	changed := !equalQuery(before, c.Query())
	if changed {
		c.follow()
	}
	return changed
}

// SetQuery restores the state from a flat representation, such as URL
// query parameters. Unlike SetFilters the page in q is always applied.
func (c *Collection[T]) SetQuery(q map[string]string) bool {
	raw := make(map[string]any, len(q))
	for k, v := range q {
		raw[k] = v
	}
	changed := c.SetFilters(raw)

	if _, ok := q[filters.PageField]; ok {
		if n, ok := c.schema.FromQuery(q)[filters.PageField].(int); ok && c.pager.SetPage(n) {
			c.follow()
			changed = true
		}
	}
	return changed
}

// SetPage moves to page n. It reports whether the page changed.
func (c *Collection[T]) SetPage(n int) bool {
	if !c.pager.SetPage(n) {
		return false
	}
	c.follow()
	return true
}

// SetLimit changes the page size.
func (c *Collection[T]) SetLimit(n int) bool {
	if !c.pager.SetLimit(n) {
		return false
	}
	c.follow()
	return true
}

// Filters returns the current filters including page and limit.
func (c *Collection[T]) Filters() filters.Set {
	c.mu.Lock()
	f := c.filters
	c.mu.Unlock()
	return c.schema.Normalize(c.pager.Apply(f))
}

// Pagination returns the current page and limit.
func (c *Collection[T]) Pagination() pagination.State { return c.pager.State() }

// Query returns the flat representation of the current filters.
func (c *Collection[T]) Query() map[string]string {
	return c.schema.ToQuery(c.Filters())
}

// Key returns the cache key of the current page.
func (c *Collection[T]) Key() (cache.Key, error) {
	return c.keys.Build(c.resource, cache.OpList, c.Filters())
}

// Load returns the current page, fetching it when it is not fresh. Remote
// failures are reported through the view, not the error. When the response
// shows fewer pages than the requested one, the page is clamped and the
// clamped page is loaded before returning.
func (c *Collection[T]) Load(ctx context.Context) (cache.View[T], error) {
	view, key, err := c.load(ctx)
	if err != nil || !view.HasData || view.IsError() {
		return view, err
	}

	requested, _ := key.Filters()[filters.PageField].(int)
	if requested <= view.TotalPages() {
		return view, nil
	}

	c.log.Debug().
		Str("key", key.String()).
		Int("page", requested).
		Int("total_pages", view.TotalPages()).
		Msg("page out of range, clamping")
	c.follow()
	view, _, err = c.load(ctx)
	return view, err
}

func (c *Collection[T]) load(ctx context.Context) (cache.View[T], cache.Key, error) {
	key, err := c.Key()
	if err != nil {
		return cache.View[T]{}, key, err
	}
	query := c.schema.ToQuery(key.Filters())

	view, err := cache.Fetch(ctx, c.store, key, func(ctx context.Context) (cache.Page[T], error) {
		return c.source.List(ctx, c.resource, query)
	}, c.opts.fetchOpts...)
	if err != nil {
		return view, key, err
	}

	if view.HasData {
		c.pager.SetTotalPages(view.TotalPages())
	}
	if view.IsError() {
		c.log.Warn().Err(view.Err).Str("key", key.String()).Msg("list fetch failed")
	}
	return view, key, nil
}

// Peek returns the cached current page without fetching.
func (c *Collection[T]) Peek() (cache.View[T], bool) {
	key, err := c.Key()
	if err != nil {
		return cache.View[T]{}, false
	}
	snap, ok := c.store.Peek(key)
	return cache.ViewOf[T](snap), ok
}

// Refresh starts a background refetch of the current page.
func (c *Collection[T]) Refresh() bool {
	key, err := c.Key()
	if err != nil {
		return false
	}
	return c.store.Refetch(key)
}

// Invalidate marks every cached page of the resource stale.
func (c *Collection[T]) Invalidate() int {
	return c.store.Invalidate(cache.MatchResource(c.resource))
}

// Open subscribes to the current key, keeping it alive and refreshed by
// invalidations. The subscription follows page and filter changes until
// Close.
func (c *Collection[T]) Open() {
	key, err := c.Key()
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return
	}
	c.open = true
	c.held = key
	c.store.Subscribe(key)
}

// Close releases the subscription taken by Open.
func (c *Collection[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return
	}
	c.open = false
	c.store.Unsubscribe(c.held)
	c.held = cache.Key{}
}

func (c *Collection[T]) follow() {
	key, err := c.Key()
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.held.Equal(key) {
		return
	}
	c.store.Subscribe(key)
	c.store.Unsubscribe(c.held)
	c.held = key
}

// Run refreshes the current page on every tick of the refetch interval until
// ctx is done. Without an interval it only waits for ctx.
func (c *Collection[T]) Run(ctx context.Context) error {
	if c.opts.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.opts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.Refresh() {
				continue
			}
			// Nothing cached yet or a fetch is running.
			if _, err := c.Load(ctx); err != nil && ctx.Err() == nil {
				c.log.Debug().Err(err).Msg("timer refresh failed")
			}
		}
	}
}

func equalQuery(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
