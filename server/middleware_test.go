package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/viant/mcp-broker/broker"
)

func newTestServerWithPolicy(t *testing.T, allowedOrigins []string, token string, omitAuth bool) *Server {
	t.Helper()
	cfg := broker.Config{
		Addr:                "127.0.0.1:0",
		AuthToken:           token,
		DangerouslyOmitAuth: omitAuth,
		AllowedOrigins:      allowedOrigins,
		StorageDir:          t.TempDir(),
		QueueSize:           16,
	}
	registry := broker.NewRegistry(cfg.QueueSize, nil)
	kv := broker.NewKVStore(cfg.StorageDir)
	return New(cfg, registry, kv, nil)
}

func TestOriginMiddleware_RefusesUnknownOrigin(t *testing.T) {
	s := newTestServerWithPolicy(t, []string{"http://localhost:6274"}, "", true)

	req := httptest.NewRequest(http.MethodOptions, "/api/mcp/connect", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid origin")
}

func TestOriginMiddleware_AllowsKnownOrigin(t *testing.T) {
	s := newTestServerWithPolicy(t, []string{"http://localhost:6274"}, "", true)

	req := httptest.NewRequest(http.MethodOptions, "/api/mcp/connect", nil)
	req.Header.Set("Origin", "http://localhost:6274")
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://localhost:6274", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthMiddleware_RefusesWrongToken(t *testing.T) {
	s := newTestServerWithPolicy(t, nil, "correct-token", false)

	req := httptest.NewRequest(http.MethodPost, "/api/mcp/disconnect", bytes.NewBufferString(`{"sessionId":"x"}`))
	req.Header.Set("x-mcp-remote-auth", "Bearer WRONG")
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_AllowsCorrectToken(t *testing.T) {
	s := newTestServerWithPolicy(t, nil, "correct-token", false)

	req := httptest.NewRequest(http.MethodPost, "/api/mcp/disconnect", bytes.NewBufferString(`{"sessionId":"x"}`))
	req.Header.Set("x-mcp-remote-auth", "Bearer correct-token")
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware_ConvertsPanicToInternalError(t *testing.T) {
	panicky := recoveryMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()

	panicky.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
