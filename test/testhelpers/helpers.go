// Package testhelpers provides shared utilities for portalchat tests: a
// fully wired relay behind an httptest server and WebSocket client helpers
// that speak the chat wire format.
package testhelpers

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/portalchat/internal/chat"
	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/logstore"
	"github.com/Tyrowin/portalchat/internal/relay"
	"github.com/Tyrowin/portalchat/internal/server"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://portal.test"

// Relay is a running hub, log store and HTTP server for one test.
type Relay struct {
	Config config.Config
	Hub    *relay.Hub
	Store  *logstore.Log
	Server *server.Server
	HTTP   *httptest.Server
}

// QuietLogger returns a logger that discards output.
func QuietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// StartRelay wires a relay with a file store in a temp dir. customize may
// adjust the configuration before anything is built. Everything is torn down
// with t.Cleanup.
func StartRelay(t *testing.T, customize func(cfg *config.Config)) *Relay {
	t.Helper()

	cfg := config.Default()
	cfg.AllowedOrigins = TestOrigin
	cfg.StorePath = filepath.Join(t.TempDir(), "chat.log")
	cfg.DebugEndpoints = true
	if customize != nil {
		customize(&cfg)
	}
	require.NoError(t, cfg.Validate())

	backend, err := logstore.NewFileBackend(cfg.StorePath)
	require.NoError(t, err)
	store := logstore.New(backend)

	log := QuietLogger()
	ctx, cancel := context.WithCancel(context.Background())
	hub := relay.NewHub(cfg.Codec(), store, log, relay.Options{
		ReplayHistory: cfg.ReplayHistory,
		AnonymousName: cfg.AnonymousName,
	})
	go hub.Run(ctx)

	srv := server.New(cfg, hub, store, log)
	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer closeCancel()
		_ = srv.CloseClients(closeCtx)
		ts.Close()
		cancel()
		<-hub.Done()
		_ = store.Close()
	})

	return &Relay{Config: cfg, Hub: hub, Store: store, Server: srv, HTTP: ts}
}

// WebSocketURL returns the ws:// URL of the relay's /ws endpoint.
func (r *Relay) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(r.HTTP.URL, "http") + "/ws"
}

// Settle blocks until the hub has handled every event queued so far.
func (r *Relay) Settle(t *testing.T) relay.Stats {
	t.Helper()
	stats, err := r.stats()
	require.NoError(t, err)
	return stats
}

func (r *Relay) stats() (relay.Stats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.Hub.Stats(ctx)
}

// WaitForChannels polls until the hub reports n open channels.
func (r *Relay) WaitForChannels(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		stats, err := r.stats()
		return err == nil && stats.Channels == n
	}, 2*time.Second, 10*time.Millisecond, "expected %d open channels", n)
}

// ConnectWebSocket dials url with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Connect opens a client to the relay, waits until the hub has registered it
// and closes it on cleanup.
func (r *Relay) Connect(t *testing.T) *websocket.Conn {
	t.Helper()
	before := r.Settle(t).Channels

	conn, _, err := ConnectWebSocket(r.WebSocketURL(), TestOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	r.WaitForChannels(t, before+1)
	return conn
}

// SendChat writes msg as a JSON text frame.
func SendChat(t *testing.T, conn *websocket.Conn, msg chat.Message) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// SendRaw writes raw bytes as a text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

// ReadBatch reads one frame and decodes it as a batch of messages.
func ReadBatch(t *testing.T, conn *websocket.Conn) []chat.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	msgs, err := chat.Codec{}.DecodeBatch(data)
	require.NoError(t, err, "frame %s", data)
	return msgs
}

// ExpectNoMessage fails if a frame arrives on conn within timeout.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, got %s", data)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of message: %v", err)
}

// MakeRequest executes an HTTP request with a 5 second timeout.
func MakeRequest(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
