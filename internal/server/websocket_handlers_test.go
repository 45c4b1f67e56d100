package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedstash/internal/events"
)

// startListener serves app on a loopback port so a real websocket
// handshake can reach it; app.Test cannot upgrade connections.
func startListener(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return ln.Addr().String()
}

func TestProgressWebSocket(t *testing.T) {
	srv, app := newTestServer(t)
	token := authToken(t, app)
	addr := startListener(t, app)

	u := url.URL{Scheme: "ws", Host: addr, Path: "/api/ws/progress", RawQuery: "token=" + token}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool {
		return srv.hub.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv.hub.Publish(events.Event{
		Type:    events.EventRunStarted,
		RunID:   "run-1",
		Payload: map[string]interface{}{"session_id": 1},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event events.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, events.EventRunStarted, event.Type)
	assert.Equal(t, "run-1", event.RunID)
	assert.False(t, event.At.IsZero())

	// Dropping the connection unregisters the subscriber.
	_ = conn.Close()
	assert.Eventually(t, func() bool {
		return srv.hub.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProgressWebSocketRejectsAnonymous(t *testing.T) {
	_, app := newTestServer(t)
	addr := startListener(t, app)

	u := url.URL{Scheme: "ws", Host: addr, Path: "/api/ws/progress"}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.Error(t, err)
	assert.Equal(t, websocket.ErrBadHandshake, err)
	if conn != nil {
		_ = conn.Close()
	}
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProgressWebSocketRejectsBadToken(t *testing.T) {
	_, app := newTestServer(t)
	addr := startListener(t, app)

	u := url.URL{Scheme: "ws", Host: addr, Path: "/api/ws/progress", RawQuery: "token=garbage"}
	_, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
