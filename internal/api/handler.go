// Package api provides HTTP handlers for the screening API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/gad7-screener/internal/config"
	"github.com/ashureev/gad7-screener/internal/domain"
	"github.com/ashureev/gad7-screener/internal/identity"
	"github.com/ashureev/gad7-screener/internal/screening"
	"github.com/ashureev/gad7-screener/internal/store"
	"github.com/go-chi/chi/v5"
)

// ChatService is the screening surface driven by the HTTP and websocket
// handlers.
type ChatService interface {
	HandleMessage(ctx context.Context, req screening.ChatRequest) (*screening.ChatResponse, error)
	StartNewSession(ctx context.Context, userID, title string) (*domain.ChatSession, error)
}

// Handler serves the chat, session and health endpoints.
type Handler struct {
	svc            ChatService
	repo           store.Repository
	limiter        *RateLimiter
	conns          *ConnManager
	maxBodySize    int64
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a Handler. Call Close to stop background work.
func NewHandler(svc ChatService, repo store.Repository, cfg *config.Config) *Handler {
	return &Handler{
		svc:            svc,
		repo:           repo,
		limiter:        NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		conns:          NewConnManager(),
		maxBodySize:    cfg.MaxRequestBodySize,
		allowedOrigins: cfg.AllowedOrigins(),
		isDev:          cfg.IsDevelopment(),
	}
}

// RegisterRoutes mounts every route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Status)
	r.Get("/api", h.Status)
	r.Get("/api/health", h.Health)

	r.Post("/api/chat", h.HandleChat)
	r.Post("/api/sessions", h.CreateSession)
	r.Get("/api/users/{userID}/sessions", h.ListSessions)
	r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/messages", h.ListMessages)
		r.Get("/responses", h.ListResponses)
		r.Put("/title", h.UpdateTitle)
		r.Delete("/", h.DeleteSession)
	})

	r.Get("/ws/chat", h.ServeWebSocket)
}

// Close stops the rate limiter and closes open websocket chats.
func (h *Handler) Close() {
	h.limiter.Stop()
	h.conns.CloseAll()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Status reports that the service is up.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "GAD-7 screening service is running"})
}

// callerID resolves the acting user from the identity cookie. An explicit
// user ID in the request is accepted only when it names the same user.
func callerID(r *http.Request, explicit string) (string, bool) {
	id := identity.UserIDFromContext(r.Context())
	if claimed := strings.TrimSpace(explicit); claimed != "" && claimed != id {
		return "", false
	}
	return id, true
}

// requireCaller writes the error response and returns false when the caller
// cannot act as the claimed user.
func requireCaller(w http.ResponseWriter, r *http.Request, explicit string) (string, bool) {
	userID, ok := callerID(r, explicit)
	if !ok {
		Error(w, http.StatusForbidden, "user_id does not match caller identity")
		return "", false
	}
	if userID == "" {
		Error(w, http.StatusUnauthorized, "missing identity")
		return "", false
	}
	return userID, true
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return h.decode(w, r, v, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func (h *Handler) decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return h.decode(w, r, v, true)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	Error(w, http.StatusBadRequest, "invalid request body")
	return false
}
