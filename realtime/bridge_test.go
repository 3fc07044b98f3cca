package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/filters"
	"github.com/goliatone/go-collection-cache/internal/metrics"
	"github.com/goliatone/go-collection-cache/pkg/testsupport"
)

type fakeSource struct {
	mu        sync.Mutex
	handlers  map[string][]*Handler
	reconnect []*func()
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: make(map[string][]*Handler)}
}

func (f *fakeSource) On(event string, h Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := &h
	f.handlers[event] = append(f.handlers[event], ref)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		hs := f.handlers[event]
		for i, p := range hs {
			if p == ref {
				f.handlers[event] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

func (f *fakeSource) OnReconnect(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := &fn
	f.reconnect = append(f.reconnect, ref)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, p := range f.reconnect {
			if p == ref {
				f.reconnect = append(f.reconnect[:i:i], f.reconnect[i+1:]...)
				return
			}
		}
	}
}

func (f *fakeSource) emit(env Envelope) {
	f.mu.Lock()
	hs := append([]*Handler(nil), f.handlers[env.Type]...)
	f.mu.Unlock()
	for _, h := range hs {
		(*h)(env)
	}
}

func (f *fakeSource) reconnected() {
	f.mu.Lock()
	fns := append([]*func(){}, f.reconnect...)
	f.mu.Unlock()
	for _, fn := range fns {
		(*fn)()
	}
}

func (f *fakeSource) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.reconnect)
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

type bridgeFixture struct {
	store   *cache.Store
	source  *fakeSource
	bridge  *Bridge
	metrics *metrics.Bridge
}

func newBridgeFixture(t *testing.T) bridgeFixture {
	t.Helper()

	store, err := cache.NewStore(cache.DefaultConfig())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(store.Dispose)

	m := metrics.NewBridge(prometheus.NewRegistry())
	src := newFakeSource()
	b, err := NewBridge(src, store, DefaultCatalog(), WithBridgeMetrics(m))
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	b.Attach()
	t.Cleanup(b.Detach)

	return bridgeFixture{store: store, source: src, bridge: b, metrics: m}
}

// invalidations counts ChangeInvalidated notifications of key.
func invalidations(store *cache.Store, key cache.Key) func() int {
	var mu sync.Mutex
	n := 0
	store.Watch(key, func(c cache.Change) {
		if c.Kind == cache.ChangeInvalidated {
			mu.Lock()
			n++
			mu.Unlock()
		}
	})
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		return n
	}
}

func seed(t *testing.T, store *cache.Store, key cache.Key) *testsupport.CountingFetcher[any] {
	t.Helper()
	f := testsupport.NewCountingFetcher[any]("page")
	if _, err := store.Fetch(context.Background(), key, f.Fetch); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	return f
}

func TestNewBridge_RejectsInvalidCatalog(t *testing.T) {
	store, err := cache.NewStore(cache.DefaultConfig())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Dispose()

	_, err = NewBridge(newFakeSource(), store, Catalog{{Event: "x"}})
	if !errors.Is(err, ErrInvalidCatalog) {
		t.Errorf("NewBridge() error = %v, want ErrInvalidCatalog", err)
	}
}

func TestBridge_EventRefetchesSubscribedList(t *testing.T) {
	fx := newBridgeFixture(t)
	key := cache.MustBuild(cache.NewKeyBuilder(), "tickets", cache.OpList, filters.Set{"status": "OPEN"})

	fx.store.Subscribe(key)
	defer fx.store.Unsubscribe(key)
	f := seed(t, fx.store, key)

	fx.source.emit(Envelope{Type: "ticket:status", ID: "evt-1", Payload: Payload{"ticketId": "t-1"}})

	testsupport.Eventually(t, time.Second, func() bool { return f.Calls() == 2 }, "subscribed list refetched")
}

func TestBridge_DuplicateEventsApplyOnce(t *testing.T) {
	fx := newBridgeFixture(t)
	key := cache.MustBuild(cache.NewKeyBuilder(), "tickets", cache.OpList, nil)
	seed(t, fx.store, key)
	count := invalidations(fx.store, key)

	env := Envelope{Type: "ticket:updated", ID: "evt-1", Payload: Payload{"ticketId": "t-1"}}
	fx.source.emit(env)
	fx.source.emit(env)

	if count() != 1 {
		t.Errorf("invalidations = %d, want 1", count())
	}
	if got := testutil.ToFloat64(fx.metrics.Duplicates); got != 1 {
		t.Errorf("duplicates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(fx.metrics.Events.WithLabelValues("ticket:updated")); got != 1 {
		t.Errorf("events = %v, want 1", got)
	}
}

func TestBridge_EventsWithoutIDAreNotDeduplicated(t *testing.T) {
	fx := newBridgeFixture(t)
	key := cache.MustBuild(cache.NewKeyBuilder(), "tickets", cache.OpList, nil)
	seed(t, fx.store, key)
	count := invalidations(fx.store, key)

	env := Envelope{Type: "ticket:created"}
	fx.source.emit(env)
	fx.source.emit(env)

	if count() != 2 {
		t.Errorf("invalidations = %d, want 2", count())
	}
}

func TestBridge_UnreadCountersAreIdempotent(t *testing.T) {
	fx := newBridgeFixture(t)

	var mu sync.Mutex
	var updates []int
	fx.bridge.OnUnread(func(route string, count int) {
		if route != "c-1" {
			return
		}
		mu.Lock()
		updates = append(updates, count)
		mu.Unlock()
	})

	first := Envelope{Type: "message:new", Payload: Payload{"conversationId": "c-1", "messageId": "m-1"}}
	fx.source.emit(first)
	fx.source.emit(first)
	if got := fx.bridge.Unread("c-1"); got != 1 {
		t.Fatalf("Unread = %d after duplicate delivery, want 1", got)
	}

	fx.source.emit(Envelope{Type: "message:new", Payload: Payload{"conversationId": "c-1", "messageId": "m-2"}})
	fx.source.emit(Envelope{Type: "message:new", Payload: Payload{"conversationId": "c-2", "messageId": "m-3"}})
	if got := fx.bridge.Unread("c-1"); got != 2 {
		t.Errorf("Unread(c-1) = %d, want 2", got)
	}
	if got := fx.bridge.Unread("c-2"); got != 1 {
		t.Errorf("Unread(c-2) = %d, want 1", got)
	}

	fx.source.emit(Envelope{Type: "message:read", ID: "r-1", Payload: Payload{"conversationId": "c-1"}})
	if got := fx.bridge.Unread("c-1"); got != 0 {
		t.Errorf("Unread(c-1) after read = %d, want 0", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 0}
	if len(updates) != len(want) {
		t.Fatalf("updates = %v, want %v", updates, want)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Errorf("updates = %v, want %v", updates, want)
			break
		}
	}
}

func TestBridge_SameIDDifferentEventsBothApply(t *testing.T) {
	fx := newBridgeFixture(t)

	fx.source.emit(Envelope{Type: "message:new", Payload: Payload{"conversationId": "c-1", "messageId": "m-1"}})
	fx.source.emit(Envelope{Type: "message:read", Payload: Payload{"conversationId": "c-1", "messageId": "m-1"}})

	if got := fx.bridge.Unread("c-1"); got != 0 {
		t.Errorf("read of the same message must still apply, Unread = %d", got)
	}
}

func TestBridge_ReconnectInvalidatesSubscribedOnce(t *testing.T) {
	fx := newBridgeFixture(t)
	kb := cache.NewKeyBuilder()
	watched := cache.MustBuild(kb, "tickets", cache.OpList, filters.Set{"page": 1})
	idle := cache.MustBuild(kb, "orders", cache.OpList, nil)

	fx.store.Subscribe(watched)
	defer fx.store.Unsubscribe(watched)
	fw := seed(t, fx.store, watched)
	seed(t, fx.store, idle)

	watchedCount := invalidations(fx.store, watched)
	idleCount := invalidations(fx.store, idle)

	fx.source.reconnected()

	if watchedCount() != 1 {
		t.Errorf("subscribed entry invalidations = %d, want 1", watchedCount())
	}
	if idleCount() != 0 {
		t.Errorf("unsubscribed entry invalidations = %d, want 0", idleCount())
	}
	testsupport.Eventually(t, time.Second, func() bool { return fw.Calls() == 2 }, "subscribed entry refetched")
}

func TestBridge_AttachDetach(t *testing.T) {
	fx := newBridgeFixture(t)
	registered := fx.source.handlerCount()
	if registered != len(DefaultCatalog())+1 {
		t.Fatalf("handlers = %d, want %d", registered, len(DefaultCatalog())+1)
	}

	fx.bridge.Attach()
	if fx.source.handlerCount() != registered {
		t.Error("second Attach must not register again")
	}

	fx.bridge.Detach()
	if fx.source.handlerCount() != 0 {
		t.Errorf("handlers after Detach = %d", fx.source.handlerCount())
	}

	fx.source.emit(Envelope{Type: "message:new", Payload: Payload{"conversationId": "c-1", "messageId": "m-1"}})
	if fx.bridge.Unread("c-1") != 0 {
		t.Error("detached bridge must ignore events")
	}
}

func TestBridge_WithSession(t *testing.T) {
	store, err := cache.NewStore(cache.DefaultConfig())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Dispose()

	tr := newFakeTransport(0)
	session := NewSession(tr, nil, WithBackoff(fastBackoff))
	b, err := NewBridge(session, store, DefaultCatalog())
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	b.Attach()
	defer b.Detach()

	runSession(t, session)
	conn := nextConn(t, tr)
	conn.frames <- encode(t, Envelope{Type: "message:new", Payload: Payload{"conversationId": "c-9", "messageId": "m-1"}})

	testsupport.Eventually(t, time.Second, func() bool { return b.Unread("c-9") == 1 }, "event routed through session")
}
