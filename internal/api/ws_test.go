package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/gad7-screener/internal/gad7"
	"github.com/ashureev/gad7-screener/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsReply struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Crisis    bool   `json:"crisis"`
	Error     string `json:"error"`
}

func dialChat(t *testing.T, a *testAPI, query string) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(a.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	header := http.Header{}
	header.Set("Cookie", identity.AnonCookieName+"="+testUser)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat" + query
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func exchange(t *testing.T, ctx context.Context, conn *websocket.Conn, req any) wsReply {
	t.Helper()
	require.NoError(t, wsjson.Write(ctx, conn, req))
	var reply wsReply
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	return reply
}

func TestWebSocketChat(t *testing.T) {
	a := newTestAPI(t)
	conn, ctx := dialChat(t, a, "")

	first := exchange(t, ctx, conn, wsRequest{Message: "hello"})
	assert.Empty(t, first.Error)
	assert.Equal(t, gad7.AgeQuestion, first.Response)
	require.NotEmpty(t, first.SessionID)

	// Later frames reuse the bound session without naming it.
	second := exchange(t, ctx, conn, wsRequest{Message: "yes"})
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, gad7.CrisisScreenQuestion, second.Response)

	crisis := exchange(t, ctx, conn, wsRequest{Message: "I might hurt myself"})
	assert.True(t, crisis.Crisis)
	assert.Equal(t, gad7.CrisisMessage, crisis.Response)
}

func TestWebSocketErrors(t *testing.T) {
	a := newTestAPI(t)
	conn, ctx := dialChat(t, a, "")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))
	var reply wsReply
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, "invalid message", reply.Error)

	reply = exchange(t, ctx, conn, wsRequest{Message: ""})
	assert.Equal(t, "message is required", reply.Error)

	reply = exchange(t, ctx, conn, wsRequest{Message: "hi", SessionID: "missing"})
	assert.Equal(t, "session not found", reply.Error)
}

func TestWebSocketClosedWhenSessionDeleted(t *testing.T) {
	a := newTestAPI(t)
	conn, ctx := dialChat(t, a, "")

	first := exchange(t, ctx, conn, wsRequest{Message: "hello"})
	require.NotEmpty(t, first.SessionID)
	require.Eventually(t, func() bool {
		return bound(a.handler.conns, testUser, first.SessionID) != nil
	}, time.Second, 10*time.Millisecond)

	rec := a.do(t, http.MethodDelete, "/api/sessions/"+first.SessionID, testUser, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}
