package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goliatone/go-collection-cache/pkg/testsupport"
)

type wsServer struct {
	*httptest.Server
	conns   chan *websocket.Conn
	queries chan url.Values
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		conns:   make(chan *websocket.Conn, 8),
		queries: make(chan url.Values, 8),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.queries <- r.URL.Query()
		s.conns <- conn
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + path
}

func (s *wsServer) accept(t *testing.T) (*websocket.Conn, url.Values) {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn, <-s.queries
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection accepted")
		return nil, nil
	}
}

// drain reads until the connection fails so control frames are answered.
func drain(conn *websocket.Conn) {
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func TestWebsocketTransport_SendsParamsAndDeliversFrames(t *testing.T) {
	srv := newWSServer(t)
	tr := NewWebsocketTransport(srv.wsURL("/ws?token=abc"), WithPingInterval(0))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := tr.Connect(ctx, url.Values{"userId": {"u-1"}})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	server, query := srv.accept(t)
	if query.Get("userId") != "u-1" || query.Get("token") != "abc" {
		t.Errorf("query = %v", query)
	}

	if err := server.WriteMessage(websocket.TextMessage, []byte(`{"type":"ticket:updated"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	data, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(data) != `{"type":"ticket:updated"}` {
		t.Errorf("Receive() = %s", data)
	}
}

func TestWebsocketTransport_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	tr := NewWebsocketTransport("ws" + strings.TrimPrefix(srv.URL, "http"))
	if _, err := tr.Connect(context.Background(), nil); err == nil {
		t.Fatal("Connect() to a non-websocket endpoint should fail")
	}
}

func TestWebsocketTransport_KeepAlive(t *testing.T) {
	srv := newWSServer(t)
	tr := NewWebsocketTransport(srv.wsURL("/ws"), WithPingInterval(20*time.Millisecond))

	conn, err := tr.Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	server, _ := srv.accept(t)
	drain(server)

	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = server.WriteMessage(websocket.TextMessage, []byte("late"))
	}()

	data, err := conn.Receive()
	if err != nil {
		t.Fatalf("connection dropped despite pongs: %v", err)
	}
	if string(data) != "late" {
		t.Errorf("Receive() = %s", data)
	}
}

func TestSession_WebsocketReconnectsWithSameParams(t *testing.T) {
	srv := newWSServer(t)
	tr := NewWebsocketTransport(srv.wsURL("/ws"), WithPingInterval(0))
	s := NewSession(tr, url.Values{"userId": {"u-1"}}, WithBackoff(fastBackoff))

	var reconnects atomic.Int32
	s.OnReconnect(func() { reconnects.Add(1) })
	got := make(chan Envelope, 4)
	s.On("message:new", func(env Envelope) { got <- env })

	runSession(t, s)

	first, q1 := srv.accept(t)
	if err := first.WriteMessage(websocket.TextMessage, encode(t, Envelope{Type: "message:new", ID: "m-1"})); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	select {
	case env := <-got:
		if env.ID != "m-1" {
			t.Errorf("event id = %q", env.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	_ = first.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"),
		time.Now().Add(time.Second))
	_ = first.Close()

	_, q2 := srv.accept(t)
	if q1.Get("userId") != "u-1" || q2.Get("userId") != "u-1" {
		t.Errorf("params = %v then %v", q1, q2)
	}
	testsupport.Eventually(t, 2*time.Second, func() bool { return reconnects.Load() == 1 }, "reconnect hook fired")
}
