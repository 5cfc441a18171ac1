package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/ashureev/gad7-screener/internal/config"
	"github.com/ashureev/gad7-screener/internal/gad7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatConversation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/chat", testUser, chatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[chatResponse](t, rec)
	assert.Equal(t, gad7.AgeQuestion, first.Response)
	require.NotEmpty(t, first.SessionID)
	assert.False(t, first.Crisis)

	rec = a.do(t, http.MethodPost, "/api/chat", testUser, chatRequest{Message: "yes", SessionID: first.SessionID})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[chatResponse](t, rec)
	assert.Equal(t, gad7.CrisisScreenQuestion, second.Response)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestChatCrisisFlag(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/chat", testUser, chatRequest{Message: "I want to die"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"crisis":true`)
	assert.Equal(t, gad7.CrisisMessage, decode[chatResponse](t, rec).Response)
}

func TestChatBodyUserIDMustMatchCaller(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/chat", testUser, chatRequest{Message: "hello", UserID: testUser})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[chatResponse](t, rec)

	session, err := a.repo.GetSession(t.Context(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, testUser, session.UserID)

	// Naming the owner in the body does not open their session to another device.
	rec = a.do(t, http.MethodPost, "/api/chat", otherUser, chatRequest{
		Message:   "yes",
		UserID:    testUser,
		SessionID: resp.SessionID,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	count, err := a.repo.CountMessages(t.Context(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestChatValidation(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed json", `{"message":`, http.StatusBadRequest},
		{"empty message", chatRequest{Message: "   "}, http.StatusBadRequest},
		{"unknown session", chatRequest{Message: "hi", SessionID: "nope"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/chat", testUser, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestChatForeignSessionIsNotFound(t *testing.T) {
	a := newTestAPI(t)
	resp := decode[chatResponse](t, a.do(t, http.MethodPost, "/api/chat", testUser, chatRequest{Message: "hello"}))

	rec := a.do(t, http.MethodPost, "/api/chat", otherUser, chatRequest{Message: "yes", SessionID: resp.SessionID})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatBodyTooLarge(t *testing.T) {
	a := newTestAPI(t, func(c *config.Config) { c.MaxRequestBodySize = 32 })

	rec := a.do(t, http.MethodPost, "/api/chat", testUser, chatRequest{Message: strings.Repeat("a", 100)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestChatRateLimit(t *testing.T) {
	a := newTestAPI(t, func(c *config.Config) { c.RateLimit.RequestsPerWindow = 2 })

	for i := 0; i < 2; i++ {
		rec := a.do(t, http.MethodPost, "/api/chat", testUser, chatRequest{Message: "hello"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := a.do(t, http.MethodPost, "/api/chat", testUser, chatRequest{Message: "hello"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/chat", otherUser, chatRequest{Message: "hello"})
	assert.Equal(t, http.StatusOK, rec.Code)
}
