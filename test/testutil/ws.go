package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// WSServer is a local realtime backend stand-in for tests.
// Params: upgraded server-side connections, received text frames, and handshake tokens.
// Returns: helpers to push frames and observe client traffic.
type WSServer struct {
	URL string

	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	received chan string

	mu      sync.Mutex
	tokens  []string
	open    []*websocket.Conn
	readers sync.WaitGroup
}

// StartWSServer starts websocket server accepting every upgrade.
// Params: test handle; server is closed on test cleanup.
// Returns: running server with ws:// URL.
func StartWSServer(tb testing.TB) *WSServer {
	tb.Helper()

	s := &WSServer{
		conns:    make(chan *websocket.Conn, 16),
		received: make(chan string, 64),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	s.URL = "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	tb.Cleanup(s.Close)
	return s
}

func (s *WSServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.tokens = append(s.tokens, r.URL.Query().Get("token"))
	s.open = append(s.open, conn)
	s.mu.Unlock()

	s.readers.Add(1)
	go func() {
		defer s.readers.Done()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case s.received <- string(payload):
			default:
			}
		}
	}()
	s.conns <- conn
}

// NextConn waits for the next accepted connection.
// Params: test handle and timeout.
// Returns: server side of the connection or test failure.
func (s *WSServer) NextConn(tb testing.TB, timeout time.Duration) *websocket.Conn {
	tb.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(timeout):
		tb.Fatalf("no websocket connection within %s", timeout)
		return nil
	}
}

// NextReceived waits for the next text frame sent by the client.
// Params: test handle and timeout.
// Returns: frame text or test failure.
func (s *WSServer) NextReceived(tb testing.TB, timeout time.Duration) string {
	tb.Helper()
	select {
	case msg := <-s.received:
		return msg
	case <-time.After(timeout):
		tb.Fatalf("no client frame within %s", timeout)
		return ""
	}
}

// Tokens lists handshake token parameters in accept order.
func (s *WSServer) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// Upgrades returns number of accepted connections.
func (s *WSServer) Upgrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Close closes every accepted connection and stops the server.
func (s *WSServer) Close() {
	s.mu.Lock()
	open := s.open
	s.open = nil
	s.mu.Unlock()
	for _, conn := range open {
		_ = conn.Close()
	}
	s.readers.Wait()
	s.server.Close()
}
