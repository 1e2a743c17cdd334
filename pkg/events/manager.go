package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/agentos-labs/agentos/pkg/models"
)

// ConnectionManager tracks websocket connections and their group
// subscriptions, and routes event envelopes to the right audience. One
// instance per process.
type ConnectionManager struct {
	// Active connections: connection_id -> *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Group subscriptions: group -> set of connection_ids
	groups  map[string]map[string]bool
	groupMu sync.RWMutex

	// User registry: user_id -> set of connection_ids
	users  map[string]map[string]bool
	userMu sync.RWMutex

	writeTimeout time.Duration
}

// Connection is a single websocket client.
//
// subscriptions is accessed without a lock: every read and write happens on
// the goroutine that owns the connection (HandleConnection's read loop and
// its deferred cleanup).
type Connection struct {
	ID            string
	UserID        string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a connection manager.
func NewConnectionManager(writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		groups:       make(map[string]map[string]bool),
		users:        make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of one websocket connection after
// upgrade. Blocks until the connection closes. userID comes from the
// verified bearer token of the upgrading request.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, userID string) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		UserID:        userID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid websocket message", "connection_id", connID, "error", err)
			continue
		}
		m.handleClientMessage(c, &msg)
	}
}

func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		group := subscriptionTarget(msg)
		if group == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "group or chat_id is required for subscribe"})
			return
		}
		m.subscribe(c, group)
		m.sendJSON(c, map[string]string{"type": "subscription.confirmed", "group": group})

	case "unsubscribe":
		group := subscriptionTarget(msg)
		if group == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "group or chat_id is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, group)

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})

	default:
		m.sendJSON(c, map[string]string{"type": "error", "message": "unknown action"})
	}
}

func subscriptionTarget(msg *ClientMessage) string {
	if msg.ChatID != "" {
		return chatGroup(msg.ChatID)
	}
	return msg.Group
}

// Route delivers an event to the audience selected by its target. An
// unknown target falls back to a full broadcast with a warning rather than
// silently dropping the event.
func (m *ConnectionManager) Route(event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("Event not routable", "event_type", event.EventType, "error", err)
		return
	}

	switch event.Target {
	case models.TargetAll:
		m.broadcastAll(payload)
	case models.TargetUser:
		m.sendToUser(event.TargetID, payload)
	case models.TargetGroup:
		m.sendToGroup(event.TargetID, payload)
	case models.TargetChat:
		m.sendToGroup(chatGroup(event.TargetID), payload)
	default:
		slog.Warn("Unknown event target, broadcasting to all",
			"target", event.Target, "event_type", event.EventType)
		m.broadcastAll(payload)
	}
}

func (m *ConnectionManager) broadcastAll(payload []byte) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		m.sendRaw(c, payload)
	}
}

func (m *ConnectionManager) sendToUser(userID string, payload []byte) {
	m.userMu.RLock()
	ids := make([]string, 0, len(m.users[userID]))
	for id := range m.users[userID] {
		ids = append(ids, id)
	}
	m.userMu.RUnlock()

	for _, c := range m.lookup(ids) {
		m.sendRaw(c, payload)
	}
}

func (m *ConnectionManager) sendToGroup(group string, payload []byte) {
	m.groupMu.RLock()
	ids := make([]string, 0, len(m.groups[group]))
	for id := range m.groups[group] {
		ids = append(ids, id)
	}
	m.groupMu.RUnlock()

	for _, c := range m.lookup(ids) {
		m.sendRaw(c, payload)
	}
}

// lookup resolves connection IDs to live connections, snapshotting under
// the lock so no lock is held during the writes.
func (m *ConnectionManager) lookup(ids []string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

// ActiveConnections returns the count of connected clients.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) subscribe(c *Connection, group string) {
	m.groupMu.Lock()
	if _, ok := m.groups[group]; !ok {
		m.groups[group] = make(map[string]bool)
	}
	m.groups[group][c.ID] = true
	m.groupMu.Unlock()

	c.subscriptions[group] = true
}

func (m *ConnectionManager) unsubscribe(c *Connection, group string) {
	m.groupMu.Lock()
	if members, ok := m.groups[group]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(m.groups, group)
		}
	}
	m.groupMu.Unlock()

	delete(c.subscriptions, group)
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()

	if c.UserID != "" {
		m.userMu.Lock()
		if _, ok := m.users[c.UserID]; !ok {
			m.users[c.UserID] = make(map[string]bool)
		}
		m.users[c.UserID][c.ID] = true
		m.userMu.Unlock()
	}

	slog.Debug("Websocket connected", "connection_id", c.ID, "user_id", c.UserID)
}

func (m *ConnectionManager) unregister(c *Connection) {
	for group := range c.subscriptions {
		m.unsubscribe(c, group)
	}

	if c.UserID != "" {
		m.userMu.Lock()
		if members, ok := m.users[c.UserID]; ok {
			delete(members, c.ID)
			if len(members) == 0 {
				delete(m.users, c.UserID)
			}
		}
		m.userMu.Unlock()
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	slog.Debug("Websocket disconnected", "connection_id", c.ID)
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal websocket message", "error", err)
		return
	}
	m.sendRaw(c, payload)
}

func (m *ConnectionManager) sendRaw(c *Connection, payload []byte) {
	ctx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.Conn.Write(ctx, websocket.MessageText, payload); err != nil {
		slog.Warn("Failed to send to websocket client", "connection_id", c.ID, "error", err)
	}
}
