package realtime

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/goliatone/go-collection-cache/pkg/testsupport"
)

var errDial = errors.New("dial refused")

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, ErrConnectionLost
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	attempts []url.Values
	failures int
	conns    chan *fakeConn
}

func newFakeTransport(failures int) *fakeTransport {
	return &fakeTransport{failures: failures, conns: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Connect(_ context.Context, params url.Values) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts = append(t.attempts, params)
	if t.failures > 0 {
		t.failures--
		return nil, errDial
	}
	c := newFakeConn()
	t.conns <- c
	return c, nil
}

func (t *fakeTransport) Attempts() []url.Values {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]url.Values(nil), t.attempts...)
}

func fastBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(5 * time.Millisecond)
}

func encode(t *testing.T, env Envelope) []byte {
	t.Helper()
	data, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("EncodeEnvelope() error = %v", err)
	}
	return data
}

func nextConn(t *testing.T, tr *fakeTransport) *fakeConn {
	t.Helper()
	select {
	case c := <-tr.conns:
		return c
	case <-time.After(time.Second):
		t.Fatal("no connection established")
		return nil
	}
}

func runSession(t *testing.T, s *Session) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancelFn()
		select {
		case <-errc:
		case <-time.After(time.Second):
		}
	})
	return cancelFn, errc
}

func TestSession_DispatchesEvents(t *testing.T) {
	tr := newFakeTransport(0)
	s := NewSession(tr, url.Values{"userId": {"u-1"}}, WithBackoff(fastBackoff))

	got := make(chan Envelope, 4)
	s.On("ticket:updated", func(env Envelope) { got <- env })

	if s.State() != StateDisconnected {
		t.Fatalf("initial state = %v", s.State())
	}
	runSession(t, s)
	conn := nextConn(t, tr)
	testsupport.Eventually(t, time.Second, func() bool { return s.State() == StateConnected }, "connected")

	conn.frames <- []byte("{not json")
	conn.frames <- encode(t, Envelope{Type: "other:event", ID: "x"})
	conn.frames <- encode(t, Envelope{Type: "ticket:updated", ID: "e-1", Payload: Payload{"ticketId": "t-1"}})

	select {
	case env := <-got:
		if env.ID != "e-1" || env.Payload.String("ticketId") != "t-1" {
			t.Errorf("unexpected envelope %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	if s.State() != StateConnected {
		t.Errorf("malformed frames must not drop the connection, state = %v", s.State())
	}
}

func TestSession_ReconnectsWithSameParams(t *testing.T) {
	tr := newFakeTransport(0)
	s := NewSession(tr, url.Values{"userId": {"u-1"}, "role": {"agent"}}, WithBackoff(fastBackoff))

	reconnects := make(chan struct{}, 4)
	s.OnReconnect(func() { reconnects <- struct{}{} })

	runSession(t, s)
	first := nextConn(t, tr)

	select {
	case <-reconnects:
		t.Fatal("first connection is not a reconnect")
	case <-time.After(20 * time.Millisecond):
	}

	first.Close()
	nextConn(t, tr)

	select {
	case <-reconnects:
	case <-time.After(time.Second):
		t.Fatal("reconnect hook not called")
	}
	testsupport.Eventually(t, time.Second, func() bool { return s.State() == StateConnected }, "reconnected")

	attempts := tr.Attempts()
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	for i, p := range attempts {
		if p.Get("userId") != "u-1" || p.Get("role") != "agent" {
			t.Errorf("attempt %d params = %v", i, p)
		}
	}
}

func TestSession_RetriesFailedConnects(t *testing.T) {
	tr := newFakeTransport(3)
	s := NewSession(tr, nil, WithBackoff(fastBackoff))

	var reconnected atomic.Bool
	s.OnReconnect(func() { reconnected.Store(true) })

	runSession(t, s)
	nextConn(t, tr)
	testsupport.Eventually(t, time.Second, func() bool { return s.State() == StateConnected }, "connected after retries")

	if n := len(tr.Attempts()); n != 4 {
		t.Errorf("attempts = %d, want 4", n)
	}
	if reconnected.Load() {
		t.Error("retries before the first connection are not reconnects")
	}
}

func TestSession_RunStopsOnCancel(t *testing.T) {
	tr := newFakeTransport(0)
	s := NewSession(tr, nil, WithBackoff(fastBackoff))

	cancel, done := runSession(t, s)
	nextConn(t, tr)

	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if s.State() != StateDisconnected {
		t.Errorf("state after stop = %v", s.State())
	}
}

func TestSession_CancelHandler(t *testing.T) {
	s := NewSession(newFakeTransport(0), nil)

	calls := 0
	cancel := s.On("ticket:updated", func(Envelope) { calls++ })
	s.Dispatch(Envelope{Type: "ticket:updated"})
	cancel()
	cancel()
	s.Dispatch(Envelope{Type: "ticket:updated"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSession_ParamsAreCopied(t *testing.T) {
	params := url.Values{"userId": {"u-1"}}
	s := NewSession(newFakeTransport(0), params)

	params.Set("userId", "u-2")
	got := s.Params()
	if got.Get("userId") != "u-1" {
		t.Errorf("session must own its params, got %v", got)
	}
	got.Set("userId", "u-3")
	if s.Params().Get("userId") != "u-1" {
		t.Error("Params must return a copy")
	}
}

func TestBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default backoff invalid: %v", err)
	}

	b := BackoffConfig{InitialInterval: 10 * time.Millisecond, MaxInterval: 40 * time.Millisecond, Multiplier: 2}.NewBackOff()
	var last time.Duration
	for i := 0; i < 10; i++ {
		last = b.NextBackOff()
		if last == backoff.Stop {
			t.Fatal("reconnect backoff must never stop")
		}
	}
	if last != 40*time.Millisecond {
		t.Errorf("backoff should cap at MaxInterval, got %v", last)
	}

	bad := cfg
	bad.Multiplier = 0.5
	if bad.Validate() == nil {
		t.Error("multiplier below 1 should be rejected")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "disabled default"},
		{name: "websocket", mutate: func(c *Config) { c.Transport = TransportWebsocket; c.URL = "ws://localhost/socket" }},
		{name: "websocket without url", mutate: func(c *Config) { c.Transport = TransportWebsocket }, wantErr: true},
		{name: "nats without subject", mutate: func(c *Config) { c.Transport = TransportNATS; c.URL = "nats://localhost:4222" }, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) { c.Transport = "sse"; c.URL = "http://x" }, wantErr: true},
		{name: "enabled with bad dedup", mutate: func(c *Config) {
			c.Transport = TransportWebsocket
			c.URL = "ws://localhost/socket"
			c.Dedup.TTL = 0
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
