package realtime

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/internal/logging"
	"github.com/goliatone/go-collection-cache/internal/metrics"
)

// State is the connection state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Transport opens connections to the realtime server.
type Transport interface {
	Connect(ctx context.Context, params url.Values) (Conn, error)
}

// Conn is one live connection. Receive blocks until a frame arrives or the
// connection fails. Close must be safe to call more than once and must
// unblock a pending Receive.
type Conn interface {
	Receive() ([]byte, error)
	Close() error
}

// Handler receives decoded events.
type Handler func(Envelope)

// Session owns the single shared connection of a process. Consumers
// multiplex over it by event name.
type Session struct {
	transport  Transport
	params     url.Values
	newBackoff func() backoff.BackOff
	log        zerolog.Logger
	metrics    *metrics.Bridge

	running atomic.Bool
	state   atomic.Int32

	mu          sync.RWMutex
	nextID      uint64
	handlers    map[string]map[uint64]Handler
	onReconnect map[uint64]func()
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithBackoff sets the factory of the reconnect backoff policy.
func WithBackoff(factory func() backoff.BackOff) SessionOption {
	return func(s *Session) {
		if factory != nil {
			s.newBackoff = factory
		}
	}
}

// WithSessionLogger sets the session logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithSessionLogger(l zerolog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithSessionMetrics attaches prometheus collectors.
func WithSessionMetrics(m *metrics.Bridge) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// NewSession returns a disconnected session. params are sent on every
// connection attempt.
func NewSession(transport Transport, params url.Values, opts ...SessionOption) *Session {
	s := &Session{
		transport:   transport,
		params:      cloneValues(params),
		newBackoff:  DefaultBackoffConfig().NewBackOff,
		log:         logging.Component("realtime.session"),
		handlers:    make(map[string]map[uint64]Handler),
		onReconnect: make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Params returns a copy of the connection parameters.
func (s *Session) Params() url.Values {
	return cloneValues(s.params)
}

// On registers h for event. The returned func removes it.
func (s *Session) On(event string, h Handler) (cancel func()) {
	if h == nil {
		return func() {}
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[uint64]Handler)
	}
	s.handlers[event][id] = h
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers[event], id)
			if len(s.handlers[event]) == 0 {
				delete(s.handlers, event)
			}
			s.mu.Unlock()
		})
	}
}

// OnReconnect registers fn to run after every reconnection that follows an
// unexpected disconnect. It does not run for the first connection.
func (s *Session) OnReconnect(fn func()) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.onReconnect[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.onReconnect, id)
			s.mu.Unlock()
		})
	}
}

// Run connects and keeps the connection alive until ctx is cancelled,
// reconnecting with capped exponential backoff and no retry limit.
// It returns nil once ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	defer s.setState(StateDisconnected)

	b := s.newBackoff()
	connectedBefore := false

	for {
		s.setState(StateConnecting)
		conn, err := s.transport.Connect(ctx, cloneValues(s.params))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := nextDelay(b)
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("connect failed")
			s.setState(StateDisconnected)
			if !sleepCtx(ctx, delay) {
				return nil
			}
			continue
		}

		b.Reset()
		s.setState(StateConnected)
		if connectedBefore {
			s.metrics.Reconnected()
			s.log.Info().Msg("reconnected")
			s.fireReconnect()
		} else {
			s.log.Info().Msg("connected")
		}
		connectedBefore = true

		err = s.serve(ctx, conn)
		_ = conn.Close()
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}

		delay := nextDelay(b)
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("connection lost")
		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
}

func (s *Session) serve(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		data, err := conn.Receive()
		if err != nil {
			return err
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		s.dispatch(env)
	}
}

// Dispatch delivers env to the handlers of its event as if it had been
// received from the connection.
func (s *Session) Dispatch(env Envelope) {
	s.dispatch(env)
}

func (s *Session) dispatch(env Envelope) {
	s.mu.RLock()
	hs := make([]Handler, 0, len(s.handlers[env.Type]))
	for _, h := range s.handlers[env.Type] {
		hs = append(hs, h)
	}
	s.mu.RUnlock()

	if len(hs) == 0 {
		s.log.Debug().Str("event", env.Type).Msg("no handler for event")
		return
	}
	for _, h := range hs {
		h(env)
	}
}

func (s *Session) fireReconnect() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.onReconnect))
	for _, fn := range s.onReconnect {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.SetState(int(st))
}

func nextDelay(b backoff.BackOff) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop || d < 0 {
		d = DefaultBackoffConfig().MaxInterval
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
