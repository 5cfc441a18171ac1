//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ashureev/gad7-screener/internal/config"
	"github.com/ashureev/gad7-screener/internal/gad7"
	"github.com/ashureev/gad7-screener/internal/identity"
	"github.com/ashureev/gad7-screener/internal/screening"
	"github.com/ashureev/gad7-screener/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser  = "anon_0123456789abcdef0123456789abcdef"
	otherUser = "anon_fedcba9876543210fedcba9876543210"
)

type stubOracle struct{}

func (stubOracle) Classify(context.Context, string, string) gad7.Verdict { return gad7.VerdictNo }

func (stubOracle) Respond(context.Context, string, []gad7.Utterance, string) string {
	return "Could you say more?"
}

type testAPI struct {
	handler *Handler
	repo    store.Repository
	router  http.Handler
}

func newTestAPI(t *testing.T, mutate ...func(*config.Config)) *testAPI {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}

	svc := screening.NewService(repo, gad7.NewMachine(stubOracle{}, stubOracle{}),
		screening.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	h := NewHandler(svc, repo, cfg)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	h.RegisterRoutes(r)
	return &testAPI{handler: h, repo: repo, router: r}
}

func (a *testAPI) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: user})
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, "session not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "session not found" {
		t.Errorf("Unexpected error body: %v", got)
	}
}

func TestStatusAndHealth(t *testing.T) {
	a := newTestAPI(t)

	for _, path := range []string{"/", "/api"} {
		rec := a.do(t, http.MethodGet, path, testUser, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "running")
	}

	rec := a.do(t, http.MethodGet, "/api/health", testUser, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
}
