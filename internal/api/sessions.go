package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/gad7-screener/internal/domain"
	"github.com/ashureev/gad7-screener/internal/gad7"
	"github.com/ashureev/gad7-screener/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxTitleLength = 200

type createSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
	Title  string `json:"title,omitempty"`
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

type sessionSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Completed     bool   `json:"protocol_completed"`
	TotalScore    int    `json:"total_score"`
	SeverityLevel string `json:"severity_level,omitempty"`
	MessageCount  int    `json:"message_count"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

func summarize(s *domain.ChatSession) sessionSummary {
	return sessionSummary{
		ID:            s.ID,
		Title:         s.Title,
		Completed:     s.Completed,
		TotalScore:    s.TotalScore,
		SeverityLevel: s.SeverityLevel,
		MessageCount:  s.MessageCount,
		CreatedAt:     s.CreatedAt.Unix(),
		UpdatedAt:     s.UpdatedAt.Unix(),
	}
}

// CreateSession starts an empty "New Chat" session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decodeOptionalJSON(w, r, &req) {
		return
	}

	userID, ok := requireCaller(w, r, req.UserID)
	if !ok {
		return
	}

	session, err := h.svc.StartNewSession(r.Context(), userID, strings.TrimSpace(req.Title))
	if err != nil {
		slog.Error("Failed to create session", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	JSON(w, http.StatusCreated, map[string]any{"session": summarize(session)})
}

// ListSessions returns the caller's sessions, most recently updated first.
// The path names the caller either as "me" or by ID.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claimed := chi.URLParam(r, "userID")
	if claimed == "me" {
		claimed = ""
	}
	userID, ok := requireCaller(w, r, claimed)
	if !ok {
		return
	}

	sessions, err := h.repo.ListSessions(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list sessions", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summarize(s))
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// ListMessages returns a session's message log in conversation order.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	msgs, err := h.repo.ListMessages(r.Context(), session.ID)
	if err != nil {
		slog.Error("Failed to list messages", "session_id", session.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []*domain.ChatMessage{}
	}
	JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// ListResponses returns a session's scored answers with the running total.
func (h *Handler) ListResponses(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	responses, err := h.repo.ListResponses(r.Context(), session.ID)
	if err != nil {
		slog.Error("Failed to list responses", "session_id", session.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load responses")
		return
	}
	if responses == nil {
		responses = []*domain.ScoredResponse{}
	}

	body := map[string]any{
		"session_id":  session.ID,
		"responses":   responses,
		"total_score": session.TotalScore,
		"max_score":   gad7.MaxScore,
		"completed":   session.Completed,
	}
	if session.SeverityLevel != "" {
		body["severity_level"] = session.SeverityLevel
	}
	JSON(w, http.StatusOK, body)
}

// UpdateTitle renames a session.
func (h *Handler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	var req updateTitleRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
		Error(w, http.StatusBadRequest, "title must be 1-200 characters")
		return
	}

	if err := h.repo.UpdateTitle(r.Context(), session.ID, title); err != nil {
		h.storeError(w, err, session.ID, "failed to update title")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Title updated successfully"})
}

// DeleteSession removes a session with its messages and responses.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	if err := h.repo.DeleteSession(r.Context(), session.ID); err != nil {
		h.storeError(w, err, session.ID, "failed to delete session")
		return
	}
	h.conns.CloseSession(session.UserID, session.ID)

	JSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

// ownedSession loads the session named in the URL and checks that it belongs
// to the caller. Foreign sessions are reported as missing.
func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (*domain.ChatSession, bool) {
	userID, ok := requireCaller(w, r, r.URL.Query().Get("user_id"))
	if !ok {
		return nil, false
	}

	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		h.storeError(w, err, sessionID, "failed to load session")
		return nil, false
	}
	if session.UserID != userID {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}

func (h *Handler) storeError(w http.ResponseWriter, err error, sessionID, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	slog.Error(msg, "session_id", sessionID, "error", err)
	Error(w, http.StatusInternalServerError, msg)
}
