package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-labs/agentos/pkg/models"
)

func setupTestManager(t *testing.T, userID string) (*ConnectionManager, *httptest.Server) {
	t.Helper()

	manager := NewConnectionManager(5 * time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("websocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn, userID)
	}))

	t.Cleanup(func() { server.Close() })
	return manager, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestConnectionEstablished(t *testing.T) {
	_, server := setupTestManager(t, "user-1")
	conn := connectWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestRouteToGroup(t *testing.T) {
	manager, server := setupTestManager(t, "user-1")
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Group: GroupSalesDashboard})
	msg := readJSON(t, conn)
	require.Equal(t, "subscription.confirmed", msg["type"])

	manager.Route(models.Event{
		Channel:   "sales.created",
		Target:    models.TargetGroup,
		TargetID:  GroupSalesDashboard,
		EventType: "sales.created",
		Data:      map[string]any{"sale_id": "s-1"},
	})

	got := readJSON(t, conn)
	assert.Equal(t, "sales.created", got["event_type"])
}

func TestRouteToUser(t *testing.T) {
	manager, server := setupTestManager(t, "user-42")
	conn := connectWS(t, server)
	readJSON(t, conn)

	waitFor(t, func() bool { return manager.ActiveConnections() == 1 })

	manager.Route(models.Event{
		Channel:   "user.notification",
		Target:    models.TargetUser,
		TargetID:  "user-42",
		EventType: "user.notification",
		Data:      map[string]any{"text": "hello"},
	})

	got := readJSON(t, conn)
	assert.Equal(t, "user.notification", got["event_type"])
}

func TestRouteGroupNotDeliveredToNonMembers(t *testing.T) {
	manager, server := setupTestManager(t, "user-1")
	conn := connectWS(t, server)
	readJSON(t, conn)

	waitFor(t, func() bool { return manager.ActiveConnections() == 1 })

	manager.Route(models.Event{
		Channel:   "sales.created",
		Target:    models.TargetGroup,
		TargetID:  GroupSalesDashboard,
		EventType: "sales.created",
	})

	// A broadcast to all must still arrive; it proves the group event
	// above was not delivered to the unsubscribed connection.
	manager.Route(models.Event{
		Channel:   "system.announce",
		Target:    models.TargetAll,
		EventType: "system.announce",
	})

	got := readJSON(t, conn)
	assert.Equal(t, "system.announce", got["event_type"])
}

func TestUnknownTargetFallsBackToBroadcast(t *testing.T) {
	manager, server := setupTestManager(t, "user-1")
	conn := connectWS(t, server)
	readJSON(t, conn)

	waitFor(t, func() bool { return manager.ActiveConnections() == 1 })

	manager.Route(models.Event{
		Channel:   "sales.created",
		Target:    models.EventTarget("everyone"),
		EventType: "sales.created",
	})

	got := readJSON(t, conn)
	assert.Equal(t, "sales.created", got["event_type"])
}

func TestPingPong(t *testing.T) {
	_, server := setupTestManager(t, "")
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "ping"})
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestUnregisterCleansUpState(t *testing.T) {
	manager, server := setupTestManager(t, "user-1")
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Group: "g1"})
	readJSON(t, conn)

	conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, func() bool { return manager.ActiveConnections() == 0 })
	manager.groupMu.RLock()
	defer manager.groupMu.RUnlock()
	assert.Empty(t, manager.groups)
}

func TestChatSubscription(t *testing.T) {
	manager, server := setupTestManager(t, "user-1")
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe", ChatID: "chat-7"})
	msg := readJSON(t, conn)
	require.Equal(t, "subscription.confirmed", msg["type"])

	manager.Route(models.Event{
		Channel:   "delivery.chat",
		Target:    models.TargetChat,
		TargetID:  "chat-7",
		EventType: "chat.message",
		Data:      map[string]any{"content": "on my way"},
	})

	got := readJSON(t, conn)
	assert.Equal(t, "chat.message", got["event_type"])
}
