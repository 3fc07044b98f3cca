package realtime

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/internal/logging"
)

// NATSTransport subscribes to a NATS subject carrying encoded envelopes.
// The client library's own reconnect is disabled so that every reconnect
// goes through the Session and triggers its invalidation.
type NATSTransport struct {
	url     string
	subject string
	name    string
	timeout time.Duration
	log     zerolog.Logger
}

// NATSOption customizes a NATSTransport.
type NATSOption func(*NATSTransport)

// WithClientName sets the NATS connection name.
func WithClientName(name string) NATSOption {
	return func(t *NATSTransport) { t.name = name }
}

// WithConnectTimeout sets the dial timeout.
func WithConnectTimeout(d time.Duration) NATSOption {
	return func(t *NATSTransport) { t.timeout = d }
}

// NewNATSTransport returns a transport for the server at rawURL. subject may
// contain {param} placeholders filled from the session params.
func NewNATSTransport(rawURL, subject string, opts ...NATSOption) *NATSTransport {
	t := &NATSTransport{
		url:     rawURL,
		subject: subject,
		name:    "collection-cache",
		timeout: 5 * time.Second,
		log:     logging.Component("realtime.nats"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subject renders the subject template with params.
func (t *NATSTransport) Subject(params url.Values) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	subject := t.subject
	for _, k := range keys {
		subject = strings.ReplaceAll(subject, "{"+k+"}", params.Get(k))
	}
	if strings.ContainsAny(subject, "{}") {
		return "", fmt.Errorf("nats subject %q has unresolved placeholders", subject)
	}
	return subject, nil
}

// Connect implements Transport.
func (t *NATSTransport) Connect(ctx context.Context, params url.Values) (Conn, error) {
	subject, err := t.Subject(params)
	if err != nil {
		return nil, err
	}

	c := &natsConn{
		msgs:   make(chan *nats.Msg, 256),
		closed: make(chan struct{}),
	}

	nc, err := nats.Connect(t.url,
		nats.Name(t.name),
		nats.Timeout(t.timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.log.Debug().Err(err).Msg("nats disconnected")
			}
			c.markClosed()
		}),
		nats.ClosedHandler(func(*nats.Conn) { c.markClosed() }),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	if ctx.Err() != nil {
		nc.Close()
		return nil, ctx.Err()
	}

	sub, err := nc.ChanSubscribe(subject, c.msgs)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}

	c.nc, c.sub = nc, sub
	return c, nil
}

type natsConn struct {
	nc   *nats.Conn
	sub  *nats.Subscription
	msgs chan *nats.Msg

	closeOnce sync.Once
	closed    chan struct{}
	stopOnce  sync.Once
}

func (c *natsConn) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *natsConn) Receive() ([]byte, error) {
	select {
	case msg := <-c.msgs:
		return msg.Data, nil
	case <-c.closed:
		return nil, ErrConnectionLost
	}
}

func (c *natsConn) Close() error {
	c.stopOnce.Do(func() {
		if c.sub != nil {
			_ = c.sub.Unsubscribe()
		}
		if c.nc != nil {
			c.nc.Close()
		}
		c.markClosed()
	})
	return nil
}
