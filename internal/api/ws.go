package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/gad7-screener/internal/identity"
	"github.com/ashureev/gad7-screener/internal/screening"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type wsRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type wsError struct {
	Error string `json:"error"`
}

// ServeWebSocket runs a screening conversation over a websocket. Each text
// frame carries one message and receives exactly one JSON reply frame.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(h.maxBodySize)

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID != "" {
		h.conns.Register(userID, sessionID, ws)
	}
	defer func() {
		if sessionID != "" {
			h.conns.Unregister(userID, sessionID, ws)
		}
	}()

	h.chatLoop(r.Context(), ws, userID, &sessionID)
}

func (h *Handler) chatLoop(ctx context.Context, ws *websocket.Conn, userID string, sessionID *string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		reply := h.handleFrame(ctx, ws, userID, sessionID, data)
		if err := wsjson.Write(ctx, ws, reply); err != nil {
			slog.Debug("WebSocket write error", "error", err, "user_id", userID)
			return
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, ws *websocket.Conn, userID string, sessionID *string, data []byte) any {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return wsError{Error: "invalid message"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return wsError{Error: "message is required"}
	}
	if !h.limiter.Allow(userID) {
		return wsError{Error: "rate limit exceeded"}
	}

	target := *sessionID
	if req.SessionID != "" {
		target = req.SessionID
	}

	resp, err := h.svc.HandleMessage(ctx, screening.ChatRequest{
		Message:   req.Message,
		UserID:    userID,
		SessionID: target,
		Channel:   "chat_ws",
	})
	if err != nil {
		_, msg := chatErrorStatus(err)
		slog.Error("WebSocket chat failed", "user_id", userID, "session_id", target, "error", err)
		return wsError{Error: msg}
	}

	if resp.SessionID != *sessionID {
		if *sessionID != "" {
			h.conns.Unregister(userID, *sessionID, ws)
		}
		*sessionID = resp.SessionID
		h.conns.Register(userID, resp.SessionID, ws)
	}

	return chatResponse{
		Response:  resp.Reply,
		SessionID: resp.SessionID,
		Crisis:    resp.Crisis,
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}
