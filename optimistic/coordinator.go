// Package optimistic applies local mutations to cached pages before the remote
// confirms them.
//
// Every key has an ordered log of pending mutations. The visible page is
// always the latest confirmed base with the pending log replayed on top, so
// a failing mutation only removes its own change and a page fetched while
// mutations are in flight becomes the new base.
package optimistic

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/internal/logging"
)

// ErrNilFunc is returned when a mutation is missing its local or remote step.
var ErrNilFunc = errors.New("optimistic: nil mutation function")

// Op is the kind of a mutation.
type Op int

const (
	OpCreate Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RemoteFn performs the remote side of a mutation and returns the canonical
// server entity.
type RemoteFn[T any] func(ctx context.Context) (T, error)

// Failure describes a rolled back mutation.
type Failure struct {
	Key cache.Key
	Op  Op
	ID  string
	Err error
}

// Notifier is told about every rolled back mutation.
type Notifier interface {
	MutationFailed(Failure)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Failure)

// MutationFailed implements Notifier.
func (f NotifierFunc) MutationFailed(fl Failure) { f(fl) }

// Option customizes a Coordinator.
type Option func(*options)

type options struct {
	log      zerolog.Logger
	notifier Notifier
}

// WithLogger sets the coordinator logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithNotifier registers a failure notifier.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

type mutation[T any] struct {
	op    Op
	id    string
	apply func(cache.Page[T]) cache.Page[T]
}

type keyLog[T any] struct {
	key     cache.Key
	base    cache.Page[T]
	hasBase bool
	pending []*mutation[T]
	stop    func()
}

// Coordinator runs optimistic mutations against pages of T held in a store.
type Coordinator[T any] struct {
	store    *cache.Store
	idOf     func(T) string
	log      zerolog.Logger
	notifier Notifier

	mu   sync.Mutex
	logs map[string]*keyLog[T]
}

// New returns a coordinator. idOf extracts the identity of an entity.
func New[T any](store *cache.Store, idOf func(T) string, opts ...Option) *Coordinator[T] {
	o := options{log: logging.Component("optimistic")}
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator[T]{
		store:    store,
		idOf:     idOf,
		log:      o.log,
		notifier: o.notifier,
		logs:     make(map[string]*keyLog[T]),
	}
}

// IsTemp reports whether id is a temporary id.
func (c *Coordinator[T]) IsTemp(id string) bool { return IsTemp(id) }

// Create inserts synthesize(tempID) at the head of the page held for key,
// then runs remote. On success the optimistic entity is replaced by the
// server entity; on failure the insert is rolled back and the error returned.
func (c *Coordinator[T]) Create(ctx context.Context, key cache.Key, synthesize func(tempID string) T, remote RemoteFn[T]) (T, error) {
	var zero T
	if synthesize == nil || remote == nil {
		return zero, ErrNilFunc
	}

	tempID := NewTempID()
	local := synthesize(tempID)
	m := &mutation[T]{
		op:    OpCreate,
		id:    tempID,
		apply: func(p cache.Page[T]) cache.Page[T] { return c.upsert(p, local) },
	}
	if err := c.begin(key, m); err != nil {
		return zero, err
	}

	created, err := remote(ctx)
	if err != nil {
		c.fail(key, m, err)
		return zero, err
	}

	c.settle(key, m, func(p cache.Page[T]) cache.Page[T] { return c.upsert(p, created) })
	return created, nil
}

// Update applies patch to the entity with id, then runs remote. On success
// the entity is replaced by the server version.
func (c *Coordinator[T]) Update(ctx context.Context, key cache.Key, id string, patch func(T) T, remote RemoteFn[T]) (T, error) {
	var zero T
	if patch == nil || remote == nil {
		return zero, ErrNilFunc
	}

	m := &mutation[T]{
		op: OpUpdate,
		id: id,
		apply: func(p cache.Page[T]) cache.Page[T] {
			return c.replace(p, id, patch)
		},
	}
	if err := c.begin(key, m); err != nil {
		return zero, err
	}

	updated, err := remote(ctx)
	if err != nil {
		c.fail(key, m, err)
		return zero, err
	}

	c.settle(key, m, func(p cache.Page[T]) cache.Page[T] {
		return c.replace(p, id, func(T) T { return updated })
	})
	return updated, nil
}

// Delete removes the entity with id, then runs remote.
func (c *Coordinator[T]) Delete(ctx context.Context, key cache.Key, id string, remote func(ctx context.Context) error) error {
	if remote == nil {
		return ErrNilFunc
	}

	drop := func(p cache.Page[T]) cache.Page[T] { return c.remove(p, id) }
	m := &mutation[T]{op: OpDelete, id: id, apply: drop}
	if err := c.begin(key, m); err != nil {
		return err
	}

	if err := remote(ctx); err != nil {
		c.fail(key, m, err)
		return err
	}

	c.settle(key, m, drop)
	return nil
}

// Pending returns the ids touched by mutations still waiting for the remote,
// in issue order.
func (c *Coordinator[T]) Pending(key cache.Key) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.logs[key.String()]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(l.pending))
	for _, m := range l.pending {
		ids = append(ids, m.id)
	}
	return ids
}

func (c *Coordinator[T]) begin(key cache.Key, m *mutation[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.logs[key.String()]
	if !ok {
		l = &keyLog[T]{key: key}
		if snap, found := c.store.Peek(key); found {
			if p, isPage := snap.Data.(cache.Page[T]); isPage {
				l.base, l.hasBase = p, true
			}
		}
		c.store.Subscribe(key)
		l.stop = c.store.Watch(key, func(ch cache.Change) { c.rebase(key, ch) })
		c.logs[key.String()] = l
	}

	l.pending = append(l.pending, m)
	if err := c.publishLocked(l); err != nil {
		l.pending = l.pending[:len(l.pending)-1]
		c.releaseIfIdleLocked(l)
		return err
	}

	c.log.Debug().Str("key", key.String()).Str("op", m.op.String()).Str("id", m.id).
		Int("pending", len(l.pending)).Msg("optimistic mutation applied")
	return nil
}

func (c *Coordinator[T]) fail(key cache.Key, m *mutation[T], err error) {
	c.settle(key, m, nil)

	c.log.Warn().Err(err).Str("key", key.String()).Str("op", m.op.String()).Str("id", m.id).
		Msg("optimistic mutation rolled back")
	if c.notifier != nil {
		c.notifier.MutationFailed(Failure{Key: key, Op: m.op, ID: m.id, Err: err})
	}
}

// settle drops m from the log. A non nil confirm is folded into the base.
// Once a confirmed mutation leaves the log empty the key is invalidated while
// still subscribed, so a fetch issued before the mutation cannot leave the
// pre-mutation page behind.
func (c *Coordinator[T]) settle(key cache.Key, m *mutation[T], confirm func(cache.Page[T]) cache.Page[T]) {
	c.mu.Lock()

	l, ok := c.logs[key.String()]
	if !ok {
		c.mu.Unlock()
		return
	}
	for i, p := range l.pending {
		if p == m {
			l.pending = append(l.pending[:i:i], l.pending[i+1:]...)
			break
		}
	}

	if confirm != nil {
		if !l.hasBase {
			l.base, l.hasBase = cache.EmptyPage[T](key), true
		}
		l.base = confirm(l.base)
	}

	if err := c.publishLocked(l); err != nil {
		c.log.Warn().Err(err).Str("key", key.String()).Msg("failed to publish settled page")
	}

	if confirm == nil || len(l.pending) > 0 {
		c.releaseIfIdleLocked(l)
		c.mu.Unlock()
		return
	}

	l.stop()
	delete(c.logs, key.String())
	c.mu.Unlock()

	c.store.Invalidate(cache.MatchExact(key))
	c.store.Unsubscribe(key)
	c.log.Debug().Str("key", key.String()).Msg("mutations confirmed, refreshing page")
}

// rebase adopts a freshly fetched page as the confirmed base.
func (c *Coordinator[T]) rebase(key cache.Key, ch cache.Change) {
	if ch.Kind != cache.ChangeFetched {
		return
	}
	page, ok := ch.Snapshot.Data.(cache.Page[T])
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.logs[key.String()]
	if !ok || len(l.pending) == 0 {
		return
	}
	l.base, l.hasBase = page, true
	if err := c.publishLocked(l); err != nil {
		c.log.Warn().Err(err).Str("key", key.String()).Msg("failed to replay pending mutations")
		return
	}
	c.log.Debug().Str("key", key.String()).Int("pending", len(l.pending)).Msg("pending mutations rebased")
}

func (c *Coordinator[T]) publishLocked(l *keyLog[T]) error {
	base, hasBase := l.base, l.hasBase
	pending := append([]*mutation[T](nil), l.pending...)
	key := l.key

	return c.store.Write(key, func(any) any {
		if !hasBase && len(pending) == 0 {
			return nil
		}
		page := base
		if !hasBase {
			page = cache.EmptyPage[T](key)
		}
		for _, m := range pending {
			page = m.apply(page)
		}
		return page
	})
}

func (c *Coordinator[T]) releaseIfIdleLocked(l *keyLog[T]) {
	if len(l.pending) > 0 {
		return
	}
	l.stop()
	c.store.Unsubscribe(l.key)
	delete(c.logs, l.key.String())
}

func (c *Coordinator[T]) indexOf(items []T, id string) int {
	for i, it := range items {
		if c.idOf(it) == id {
			return i
		}
	}
	return -1
}

// upsert replaces the entity with the same id or, when absent, inserts it at
// the head and counts it.
func (c *Coordinator[T]) upsert(p cache.Page[T], item T) cache.Page[T] {
	id := c.idOf(item)
	if i := c.indexOf(p.Items, id); i >= 0 {
		items := append([]T(nil), p.Items...)
		items[i] = item
		p.Items = items
		return p
	}

	items := make([]T, 0, len(p.Items)+1)
	items = append(items, item)
	items = append(items, p.Items...)
	p.Items = items
	p.TotalCount++
	return p.Normalize()
}

func (c *Coordinator[T]) replace(p cache.Page[T], id string, fn func(T) T) cache.Page[T] {
	i := c.indexOf(p.Items, id)
	if i < 0 {
		return p
	}
	items := append([]T(nil), p.Items...)
	items[i] = fn(items[i])
	p.Items = items
	return p
}

func (c *Coordinator[T]) remove(p cache.Page[T], id string) cache.Page[T] {
	i := c.indexOf(p.Items, id)
	if i < 0 {
		return p
	}
	items := make([]T, 0, len(p.Items)-1)
	items = append(items, p.Items[:i]...)
	items = append(items, p.Items[i+1:]...)
	p.Items = items
	p.TotalCount--
	return p.Normalize()
}
