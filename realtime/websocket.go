package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/internal/logging"
)

// WebsocketTransport dials a websocket endpoint, appending the session
// params to its query string.
type WebsocketTransport struct {
	url          string
	header       http.Header
	dialer       *websocket.Dialer
	pingInterval time.Duration
	log          zerolog.Logger
}

// WebsocketOption customizes a WebsocketTransport.
type WebsocketOption func(*WebsocketTransport)

// WithHeader sets headers sent with the handshake.
func WithHeader(h http.Header) WebsocketOption {
	return func(t *WebsocketTransport) { t.header = h.Clone() }
}

// WithPingInterval sets the keepalive period. Zero disables pings and read
// deadlines.
func WithPingInterval(d time.Duration) WebsocketOption {
	return func(t *WebsocketTransport) { t.pingInterval = d }
}

// WithDialer replaces the default dialer.
func WithDialer(d *websocket.Dialer) WebsocketOption {
	return func(t *WebsocketTransport) {
		if d != nil {
			t.dialer = d
		}
	}
}

// NewWebsocketTransport returns a transport for rawURL (ws:// or wss://).
func NewWebsocketTransport(rawURL string, opts ...WebsocketOption) *WebsocketTransport {
	t := &WebsocketTransport{
		url: rawURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  10 * time.Second,
			EnableCompression: true,
		},
		pingInterval: 30 * time.Second,
		log:          logging.Component("realtime.websocket"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect implements Transport.
func (t *WebsocketTransport) Connect(ctx context.Context, params url.Values) (Conn, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("websocket url: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), t.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			t.log.Debug().Err(cerr).Msg("failed to close handshake body")
		}
	}

	c := &wsConn{conn: conn, interval: t.pingInterval, stop: make(chan struct{}), log: t.log}
	if c.interval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * c.interval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * c.interval))
		})
		c.wg.Add(1)
		go c.pingLoop()
	}
	return c, nil
}

type wsConn struct {
	conn     *websocket.Conn
	interval time.Duration
	log      zerolog.Logger

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (c *wsConn) Receive() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
			return nil, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if c.interval > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.interval))
		}
		return data, nil
	}
}

func (c *wsConn) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.interval/2)); err != nil {
				c.log.Debug().Err(err).Msg("keep-alive failed")
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		if werr := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		); werr != nil {
			c.log.Debug().Err(werr).Msg("failed to send close message")
		}
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}
