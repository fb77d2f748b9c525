package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/portalchat/internal/chat"
	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/server"
	"github.com/Tyrowin/portalchat/test/testhelpers"
)

var alice = chat.Message{Date: "1/1/2022 10:00:00", Name: "Alice", Text: "hi"}

func TestBroadcastReachesEveryOpenChannel(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	a := r.Connect(t)
	b := r.Connect(t)

	testhelpers.SendChat(t, a, alice)

	assert.Equal(t, []chat.Message{alice}, testhelpers.ReadBatch(t, a), "sender gets its own echo")
	assert.Equal(t, []chat.Message{alice}, testhelpers.ReadBatch(t, b))

	msgs, _, err := r.Store.Messages()
	require.NoError(t, err)
	assert.Equal(t, []chat.Message{alice}, msgs)

	// A channel opened afterwards starts with an empty view.
	c := r.Connect(t)
	testhelpers.ExpectNoMessage(t, c, 200*time.Millisecond)
}

func TestMalformedFrameRelayedAsSystemMessage(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	a := r.Connect(t)
	b := r.Connect(t)

	testhelpers.SendRaw(t, a, "this is not json")

	for _, conn := range []*websocket.Conn{a, b} {
		batch := testhelpers.ReadBatch(t, conn)
		require.Len(t, batch, 1)
		assert.Equal(t, chat.SystemName, batch[0].Name)
		assert.Equal(t, "this is not json", batch[0].Text)
	}

	data, err := r.Store.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestClosedChannelIsNotDeliveredTo(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	a := r.Connect(t)
	b := r.Connect(t)

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	r.WaitForChannels(t, 1)

	bob := chat.Message{Date: "1/1/2022 10:01:00", Name: "Bob", Text: "anyone?"}
	testhelpers.SendChat(t, b, bob)
	assert.Equal(t, []chat.Message{bob}, testhelpers.ReadBatch(t, b))

	stats := r.Settle(t)
	assert.Equal(t, uint64(1), stats.Deliveries)
	assert.Zero(t, stats.DeliveryFailures)
}

func TestOversizeMessageRejected(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	a := r.Connect(t)
	b := r.Connect(t)

	big := chat.Message{Date: "d", Name: "Alice", Text: strings.Repeat("x", 400)}
	testhelpers.SendChat(t, a, big)

	notice := testhelpers.ReadBatch(t, a)
	require.Len(t, notice, 1)
	assert.True(t, notice[0].IsSystem())
	assert.Contains(t, notice[0].Text, "rejected")

	testhelpers.ExpectNoMessage(t, b, 200*time.Millisecond)
	data, err := r.Store.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestFrameAboveTransportLimitClosesConnection(t *testing.T) {
	r := testhelpers.StartRelay(t, func(cfg *config.Config) {
		cfg.MaxFrameSize = 512
	})
	a := r.Connect(t)

	testhelpers.SendRaw(t, a, strings.Repeat("z", 2048))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	require.Error(t, err)
	r.WaitForChannels(t, 0)
}

func TestReplayHistoryOnConnect(t *testing.T) {
	r := testhelpers.StartRelay(t, func(cfg *config.Config) {
		cfg.ReplayHistory = true
	})
	history := []chat.Message{
		{Date: "a", Name: "Alice", Text: "one"},
		{Date: "b", Name: "Bob", Text: "two"},
	}
	for _, m := range history {
		require.NoError(t, r.Store.Append(m))
	}

	conn := r.Connect(t)
	assert.Equal(t, history, testhelpers.ReadBatch(t, conn))
}

func TestAnonymousNameApplied(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	a := r.Connect(t)

	testhelpers.SendChat(t, a, chat.Message{Date: "d", Name: "", Text: "psst"})
	batch := testhelpers.ReadBatch(t, a)
	require.Len(t, batch, 1)
	assert.Equal(t, "unknown", batch[0].Name)
}

func TestWebSocketEndpointRejectsPost(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	resp := testhelpers.MakeRequest(t, http.MethodPost, r.HTTP.URL+"/ws", strings.NewReader("test"))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketEndpointRequiresUpgrade(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	resp := testhelpers.MakeRequest(t, http.MethodGet, r.HTTP.URL+"/ws", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDisallowedOriginIsForbidden(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)

	conn, resp, err := testhelpers.ConnectWebSocket(r.WebSocketURL(), "http://evil.test")
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPageHasTextLimit(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, r.HTTP.URL+"/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `const limitSetting = "166";`)
	assert.Contains(t, string(body), `maxlength="35"`)
}

func TestPageUnrestricted(t *testing.T) {
	r := testhelpers.StartRelay(t, func(cfg *config.Config) {
		cfg.MaxWireMessageSize = 0
	})

	resp := testhelpers.MakeRequest(t, http.MethodGet, r.HTTP.URL+"/index.html", nil)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `const limitSetting = "";`)
}

func TestUnknownPathIsNotFound(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	resp := testhelpers.MakeRequest(t, http.MethodGet, r.HTTP.URL+"/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfigEndpoint(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	resp := testhelpers.MakeRequest(t, http.MethodGet, r.HTTP.URL+"/config", nil)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxTextLength":166,"maxSenderLength":35}`, string(body))

	r = testhelpers.StartRelay(t, func(cfg *config.Config) { cfg.MaxWireMessageSize = 0 })
	resp = testhelpers.MakeRequest(t, http.MethodGet, r.HTTP.URL+"/config", nil)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxTextLength":null,"maxSenderLength":35}`, string(body))
}

func TestHealthEndpoint(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	resp := testhelpers.MakeRequest(t, http.MethodGet, r.HTTP.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "portalchat is running")
}

func TestDebugLogInterface(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	a := r.Connect(t)
	testhelpers.SendChat(t, a, alice)
	testhelpers.ReadBatch(t, a)

	resp := testhelpers.MakeRequest(t, http.MethodGet, r.HTTP.URL+"/debug/log", nil)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"date":"1/1/2022 10:00:00","name":"Alice","text":"hi"}`+"\n", string(body))

	resp = testhelpers.MakeRequest(t, http.MethodPost, r.HTTP.URL+"/debug/log", strings.NewReader("note\n"))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	data, err := r.Store.ReadAll()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "note\n"))

	resp = testhelpers.MakeRequest(t, http.MethodDelete, r.HTTP.URL+"/debug/log", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = testhelpers.MakeRequest(t, http.MethodDelete, r.HTTP.URL+"/debug/log", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "clearing twice is fine")

	resp = testhelpers.MakeRequest(t, http.MethodGet, r.HTTP.URL+"/debug/log", nil)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)

	resp = testhelpers.MakeRequest(t, http.MethodPut, r.HTTP.URL+"/debug/log", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDebugStats(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	a := r.Connect(t)
	testhelpers.SendRaw(t, a, "junk")
	testhelpers.ReadBatch(t, a)

	resp := testhelpers.MakeRequest(t, http.MethodGet, r.HTTP.URL+"/debug/stats", nil)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.EqualValues(t, 1, stats["channels"])
	assert.EqualValues(t, 1, stats["malformed"])
}

func TestDebugEndpointsDisabled(t *testing.T) {
	r := testhelpers.StartRelay(t, func(cfg *config.Config) {
		cfg.DebugEndpoints = false
	})
	for _, path := range []string{"/debug/log", "/debug/stats"} {
		resp := testhelpers.MakeRequest(t, http.MethodGet, r.HTTP.URL+path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	r := testhelpers.StartRelay(t, nil)
	conns := []*websocket.Conn{r.Connect(t), r.Connect(t), r.Connect(t)}
	require.Equal(t, 3, r.Server.ClientCount())

	httpServer := server.CreateServer("127.0.0.1:0", r.Server.Routes())
	require.NoError(t, server.ShutdownServer(httpServer, r.Server, 2*time.Second))

	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err)
	}
	assert.Zero(t, r.Server.ClientCount())
	r.WaitForChannels(t, 0)
}
