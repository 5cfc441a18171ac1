package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks the websocket bound to each screening session. A
// session has at most one live chat connection; binding a second one
// closes the first, which keeps turns for one session strictly sequential.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates an empty connection registry.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register binds conn to a user's session, replacing any previous binding.
func (m *ConnManager) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "session opened elsewhere")
	}

	m.active[userID][sessionID] = conn
	slog.Debug("Chat connection registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the one bound to the session.
func (m *ConnManager) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Debug("Chat connection unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseSession closes the connection bound to a deleted session.
func (m *ConnManager) CloseSession(userID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return
	}
	conn, ok := sessions[sessionID]
	if !ok {
		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "session deleted")
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, userID)
	}
	slog.Info("Chat connection closed", "user_id", userID, "session_id", sessionID)
}

// CloseAll closes every tracked connection.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, userID)
	}
}
