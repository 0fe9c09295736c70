package push

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubServer(t *testing.T, opts ...Option) (*Hub, string) {
	t.Helper()
	h := NewHub(nil, nil, opts...)
	e := echo.New()
	h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, h *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.ClientCount() == want }, time.Second, 5*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &env))
	return env
}

func TestHub_BroadcastsToAllByDefault(t *testing.T) {
	h, url := newHubServer(t)
	conn := dial(t, h, url, 1)

	h.Publish("/topic/alarm", map[string]string{"marketCode": "KRW-BTC"})

	env := readEnvelope(t, conn)
	assert.Equal(t, "/topic/alarm", env["topic"])
	assert.Equal(t, map[string]interface{}{"marketCode": "KRW-BTC"}, env["payload"])
}

func TestHub_TopicFilter(t *testing.T) {
	h, url := newHubServer(t)
	conn := dial(t, h, url+"?topics=/topic/favoriteUpdate", 1)

	h.Publish("/topic/alarm", 1)
	h.Publish("/topic/favoriteUpdate", 2)

	env := readEnvelope(t, conn)
	assert.Equal(t, "/topic/favoriteUpdate", env["topic"])
	assert.Equal(t, 2.0, env["payload"])
}

func TestHub_SubscribeCommand(t *testing.T) {
	h, url := newHubServer(t)
	conn := dial(t, h, url+"?topics=/topic/none", 1)

	require.NoError(t, conn.WriteJSON(Command{Action: "subscribe", Topic: "/topic/alarm"}))
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			if c.wants("/topic/alarm") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	h.Publish("/topic/alarm", "x")
	assert.Equal(t, "/topic/alarm", readEnvelope(t, conn)["topic"])
}

func TestHub_RemovesDisconnectedClients(t *testing.T) {
	h, url := newHubServer(t)
	conn := dial(t, h, url, 1)
	dial(t, h, url, 2)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHub_DropsSlowClient(t *testing.T) {
	h, url := newHubServer(t, WithSendBuffer(1))
	dial(t, h, url, 1)

	// the client never reads, so the buffer fills
	for i := 0; i < 10000 && h.ClientCount() == 1; i++ {
		h.Publish("/topic/market-data", strings.Repeat("x", 1024))
	}
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
