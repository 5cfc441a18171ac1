package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/gad7-screener/internal/screening"
	"github.com/go-chi/chi/v5/middleware"
)

type chatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Crisis    bool   `json:"crisis,omitempty"`
}

// HandleChat processes one screening message.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	userID, ok := requireCaller(w, r, req.UserID)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	resp, err := h.svc.HandleMessage(r.Context(), screening.ChatRequest{
		Message:   req.Message,
		UserID:    userID,
		SessionID: req.SessionID,
		Channel:   "chat_http",
	})
	if err != nil {
		status, msg := chatErrorStatus(err)
		slog.Error("Chat request failed",
			"user_id", userID,
			"session_id", req.SessionID,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
		Error(w, status, msg)
		return
	}

	JSON(w, http.StatusOK, chatResponse{
		Response:  resp.Reply,
		SessionID: resp.SessionID,
		Crisis:    resp.Crisis,
	})
}

// chatErrorStatus maps orchestrator errors to an HTTP status and an opaque
// client message.
func chatErrorStatus(err error) (int, string) {
	if errors.Is(err, screening.ErrSessionNotFound) {
		return http.StatusNotFound, "session not found"
	}
	return http.StatusInternalServerError, "failed to process message"
}
