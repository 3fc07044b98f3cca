package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/internal/logging"
	"github.com/goliatone/go-collection-cache/internal/metrics"
)

// FetchFn is the function signature the store expects when fetching from the
// source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// Store holds cached results per key. It tracks freshness, de-duplicates
// concurrent fetches, revalidates stale data in the background and garbage
// collects entries nobody subscribes to.
//
// One Store is meant to live for a whole session and be injected wherever a
// collection is read or mutated.
type Store struct {
	cfg     Config
	entries *xsync.MapOf[string, *entry]
	now     func() time.Time
	log     zerolog.Logger
	metrics *metrics.Store

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	disposed atomic.Bool
	watchID  atomic.Uint64
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *metrics.Store) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore validates cfg and returns an empty store.
func NewStore(cfg Config, opts ...StoreOption) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		cfg:     cfg,
		entries: xsync.NewMapOf[string, *entry](),
		now:     time.Now,
		log:     logging.Component("cache.store"),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the configuration the store was built with.
func (s *Store) Config() Config { return s.cfg }

// FetchOption overrides per call freshness settings.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	staleTime time.Duration
	gcTime    time.Duration
}

// WithStaleTime overrides Config.StaleTime for the entry.
func WithStaleTime(d time.Duration) FetchOption {
	return func(o *fetchOptions) { o.staleTime = d }
}

// WithGCTime overrides Config.GCTime for the entry.
func WithGCTime(d time.Duration) FetchOption {
	return func(o *fetchOptions) { o.gcTime = d }
}

// Fetch returns the data cached for key, fetching it when needed.
//
// Fresh data is returned without a remote call. Stale data is returned as is
// and a single background refetch is started. Without data the call waits for
// the in-flight fetch, which is shared by every concurrent caller of the key.
//
// Remote failures are reported through the returned Snapshot (StateError, Err)
// and keep the last good data. The error result is reserved for invalid
// arguments, a disposed store and cancellation of ctx.
func (s *Store) Fetch(ctx context.Context, key Key, fetcher FetchFn[any], opts ...FetchOption) (Snapshot, error) {
	if s.disposed.Load() {
		return Snapshot{}, ErrDisposed
	}
	if key.IsZero() {
		return Snapshot{}, ErrInvalidKey
	}
	if fetcher == nil {
		return Snapshot{}, ErrNilFetcher
	}

	o := fetchOptions{staleTime: s.cfg.StaleTime, gcTime: s.cfg.GCTime}
	for _, opt := range opts {
		opt(&o)
	}

	e := s.lockEntry(key)
	e.fetcher = fetcher
	e.staleTime = o.staleTime
	e.gcTime = o.gcTime

	now := s.now()
	if e.hasData {
		outcome := "fresh"
		if e.staleLocked(now) {
			outcome = "stale"
			if e.inflight == nil {
				s.startFetchLocked(e)
			}
		}
		snap := e.snapshotLocked(now)
		e.mu.Unlock()
		s.metrics.Lookup(key.resource, outcome)
		return snap, nil
	}

	c := e.inflight
	if c == nil {
		c = s.startFetchLocked(e)
	}
	e.mu.Unlock()
	s.metrics.Lookup(key.resource, "miss")

	select {
	case <-c.done:
	case <-ctx.Done():
		snap, _ := s.Peek(key)
		return snap, ctx.Err()
	}

	e.mu.Lock()
	snap := e.snapshotLocked(s.now())
	e.mu.Unlock()
	return snap, nil
}

// Refetch starts a background fetch of key using its last fetcher, whatever
// its freshness. It reports false when the key is unknown, has never been
// fetched or a fetch is already running.
func (s *Store) Refetch(key Key) bool {
	if s.disposed.Load() {
		return false
	}
	e, ok := s.entries.Load(key.String())
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.fetcher == nil || e.inflight != nil {
		return false
	}
	s.startFetchLocked(e)
	return true
}

// Invalidate marks every matching entry stale. Entries with subscribers are
// refetched in the background; the rest refetch on their next Fetch.
// It returns the number of matched entries.
func (s *Store) Invalidate(match Matcher) int {
	if match == nil {
		return 0
	}
	return s.invalidateWhere(func(e *entry) bool { return match(e.key) })
}

// InvalidateSubscribed invalidates every entry that currently has subscribers.
func (s *Store) InvalidateSubscribed() int {
	return s.invalidateWhere(func(e *entry) bool { return e.subscribers > 0 })
}

func (s *Store) invalidateWhere(pred func(*entry) bool) int {
	if s.disposed.Load() {
		return 0
	}

	var changes []pendingNotify
	s.entries.Range(func(_ string, e *entry) bool {
		e.mu.Lock()
		if e.removed || !pred(e) {
			e.mu.Unlock()
			return true
		}

		e.invalidated = true
		e.invalidSeq = e.seq
		if e.state == StateFresh {
			e.state = StateStale
		}
		if e.subscribers > 0 && e.fetcher != nil {
			s.startFetchLocked(e)
		}
		changes = append(changes, e.changeLocked(ChangeInvalidated, s.now()))
		e.mu.Unlock()
		return true
	})

	for _, c := range changes {
		c.dispatch()
	}
	s.metrics.Invalidate(len(changes))
	if len(changes) > 0 {
		s.log.Debug().Int("entries", len(changes)).Msg("invalidated")
	}
	return len(changes)
}

// Write applies updater to the data held for key. It runs synchronously under
// the entry lock and leaves freshness untouched. The updater receives nil
// when the entry holds no data; returning nil clears the data.
// The updater must not call back into the store for the same key.
func (s *Store) Write(key Key, updater func(old any) any) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	if key.IsZero() {
		return ErrInvalidKey
	}
	if updater == nil {
		return ErrNilUpdater
	}

	e := s.lockEntry(key)
	var old any
	if e.hasData {
		old = e.data
	}
	next := updater(old)
	e.data = next
	e.hasData = next != nil
	if e.subscribers == 0 && e.inflight == nil {
		s.scheduleGCLocked(e)
	}
	change := e.changeLocked(ChangeWritten, s.now())
	e.mu.Unlock()

	change.dispatch()
	return nil
}

// Peek returns the current snapshot of key without fetching.
func (s *Store) Peek(key Key) (Snapshot, bool) {
	e, ok := s.entries.Load(key.String())
	if !ok {
		return Snapshot{Key: key}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Snapshot{Key: key}, false
	}
	return e.snapshotLocked(s.now()), true
}

// Subscribe registers a consumer of key. Subscribed entries are never
// garbage collected and are refetched immediately when invalidated.
func (s *Store) Subscribe(key Key) {
	if s.disposed.Load() || key.IsZero() {
		return
	}
	e := s.lockEntry(key)
	e.subscribers++
	e.stopGCLocked()
	e.mu.Unlock()
}

// Unsubscribe releases a consumer of key. When the last consumer leaves the
// entry is collected after its gc time. In-flight fetches keep running.
func (s *Store) Unsubscribe(key Key) {
	e, ok := s.entries.Load(key.String())
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.subscribers == 0 {
		return
	}
	e.subscribers--
	if e.subscribers == 0 {
		s.scheduleGCLocked(e)
	}
}

// Watch registers fn to be called after every change of key. Callbacks run
// outside the entry lock and may call back into the store.
func (s *Store) Watch(key Key, fn func(Change)) (cancel func()) {
	if fn == nil || key.IsZero() || s.disposed.Load() {
		return func() {}
	}

	id := s.watchID.Add(1)
	e := s.lockEntry(key)
	if e.watchers == nil {
		e.watchers = make(map[uint64]func(Change))
	}
	e.watchers[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.watchers, id)
			e.mu.Unlock()
		})
	}
}

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	return s.entries.Size()
}

// Keys returns the keys currently held, in no particular order.
func (s *Store) Keys() []Key {
	keys := make([]Key, 0, s.entries.Size())
	s.entries.Range(func(_ string, e *entry) bool {
		keys = append(keys, e.key)
		return true
	})
	return keys
}

// Dispose stops background work and garbage collection timers and waits for
// running fetches to return. The store is unusable afterwards.
func (s *Store) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.entries.Range(func(_ string, e *entry) bool {
		e.mu.Lock()
		e.stopGCLocked()
		e.mu.Unlock()
		return true
	})
	s.wg.Wait()
	s.entries.Range(func(id string, _ *entry) bool {
		s.entries.Delete(id)
		return true
	})
}

// lockEntry returns the entry for key, creating it when absent, with its
// mutex held.
func (s *Store) lockEntry(key Key) *entry {
	id := key.String()
	for {
		e, ok := s.entries.Load(id)
		if !ok {
			var loaded bool
			e, loaded = s.entries.LoadOrStore(id, newEntry(key, s.cfg))
			if !loaded {
				s.metrics.Created()
			}
		}
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

func (s *Store) startFetchLocked(e *entry) *call {
	e.seq++
	c := &call{seq: e.seq, done: make(chan struct{})}
	e.inflight = c
	e.stopGCLocked()

	fetcher := e.fetcher
	s.wg.Add(1)
	go s.runFetch(e, c, fetcher)

	s.log.Debug().Str("key", e.key.String()).Uint64("seq", c.seq).Msg("fetch started")
	return c
}

func (s *Store) runFetch(e *entry, c *call, fetcher FetchFn[any]) {
	defer s.wg.Done()

	data, err := fetcher(s.ctx)
	s.metrics.Fetched(e.key.resource, err)

	e.mu.Lock()
	if e.inflight == c {
		e.inflight = nil
	}

	kind := ChangeFetched
	switch {
	case c.seq < e.applied:
		kind = 0
		s.metrics.Discard()
		s.log.Debug().Str("key", e.key.String()).Uint64("seq", c.seq).Uint64("applied", e.applied).
			Msg("discarded out of order response")
	case err != nil:
		e.applied = c.seq
		e.state = StateError
		e.err = err
		kind = ChangeFailed
		s.log.Warn().Err(err).Str("key", e.key.String()).Msg("fetch failed")
	default:
		e.applied = c.seq
		e.data = data
		e.hasData = data != nil
		e.err = nil
		e.state = StateFresh
		e.fetchedAt = s.now()
		if c.seq > e.invalidSeq {
			e.invalidated = false
		}
	}

	if e.subscribers == 0 && e.inflight == nil && !e.removed {
		s.scheduleGCLocked(e)
	}

	var change pendingNotify
	if kind != 0 {
		change = e.changeLocked(kind, s.now())
	}
	e.mu.Unlock()

	// Watchers observe the change before waiters resume.
	change.dispatch()
	close(c.done)
}

func (s *Store) scheduleGCLocked(e *entry) {
	if s.disposed.Load() {
		return
	}
	e.stopGCLocked()
	e.gcGen++
	gen := e.gcGen
	e.gcTimer = time.AfterFunc(e.gcTime, func() { s.collect(e, gen) })
}

func (s *Store) collect(e *entry, gen uint64) {
	e.mu.Lock()
	if e.removed || e.gcGen != gen || e.subscribers > 0 || e.inflight != nil {
		e.mu.Unlock()
		return
	}
	e.removed = true
	e.gcTimer = nil
	s.entries.Delete(e.key.String())
	change := e.changeLocked(ChangeRemoved, s.now())
	e.watchers = nil
	e.mu.Unlock()

	s.metrics.Collect()
	s.log.Debug().Str("key", e.key.String()).Msg("entry collected")
	change.dispatch()
}
