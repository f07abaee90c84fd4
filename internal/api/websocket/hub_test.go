package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/auth"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T, jwt *auth.JWTHandler) (*Hub, string) {
	t.Helper()

	hub := NewHub(zap.NewNop(), jwt)
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gorilla.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	// Coalesced frames carry one message per line; the first is enough here.
	line := strings.SplitN(string(data), "\n", 2)[0]
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	return msg
}

func TestBroadcastReachesClient(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Broadcast(NewEndpointValueMessage("plant.modbus.tank.level.int", 42))

	msg := readMessage(t, conn)
	assert.Equal(t, "endpoint_value", msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "plant.modbus.tank.level.int", data["endpoint"])
	assert.Equal(t, float64(42), data["value"])
}

func TestUnsubscribeFiltersTopics(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "unsubscribe", Topics: []Topic{TopicRegistry}}))

	var client *Client
	hub.mu.RLock()
	for c := range hub.clients {
		client = c
	}
	hub.mu.RUnlock()
	require.NotNil(t, client)
	require.Eventually(t, func() bool { return !client.subscribed(TopicRegistry) }, 2*time.Second, 5*time.Millisecond)

	hub.Broadcast(NewEndpointStatusMessage("plant.modbus.tank.level.int", false))
	hub.Broadcast(NewProgramStateMessage("mixer", "RUNNING"))

	msg := readMessage(t, conn)
	assert.Equal(t, "program_state", msg["type"])
}

func TestAuthRequired(t *testing.T) {
	jwt := auth.NewJWTHandler("0123456789abcdef0123456789abcdef", time.Hour)
	hub, url := startHub(t, jwt)

	bad := dial(t, url)
	require.NoError(t, bad.WriteJSON(clientMessage{Type: "subscribe"}))
	msg := readMessage(t, bad)
	assert.Equal(t, "auth_failed", msg["type"])
	assert.Equal(t, "First message must be authentication", msg["reason"])
	assert.Equal(t, 0, hub.GetClientCount())

	_, _, err := bad.ReadMessage()
	assert.True(t, gorilla.IsCloseError(err, gorilla.CloseNormalClosure), "got %v", err)

	expired := dial(t, url)
	require.NoError(t, expired.WriteJSON(clientMessage{Type: "auth", Token: "not-a-token"}))
	msg = readMessage(t, expired)
	assert.Equal(t, "auth_failed", msg["type"])
	assert.Equal(t, "Invalid or expired token", msg["reason"])

	token, err := jwt.GenerateAccessToken("hmi", auth.RoleOperator)
	require.NoError(t, err)

	good := dial(t, url)
	require.NoError(t, good.WriteJSON(clientMessage{Type: "auth", Token: token}))
	msg = readMessage(t, good)
	assert.Equal(t, "auth_success", msg["type"])
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestMessageTopics(t *testing.T) {
	assert.Equal(t, TopicRegistry, MessageTypeEndpointValue.Topic())
	assert.Equal(t, TopicEngine, MessageTypeWatchdog.Topic())
	assert.Equal(t, TopicEvents, MessageTypeEvent.Topic())
	assert.Equal(t, TopicSystem, MessageTypeSystemStatus.Topic())
}
