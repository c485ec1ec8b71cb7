package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/viant/mcp-broker/broker"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := broker.Config{
		Addr:                "127.0.0.1:0",
		AuthToken:           "test-token",
		DangerouslyOmitAuth: true,
		StorageDir:          t.TempDir(),
		QueueSize:           16,
	}
	registry := broker.NewRegistry(cfg.QueueSize, nil)
	kv := broker.NewKVStore(cfg.StorageDir)
	return New(cfg, registry, kv, nil)
}

func TestHandleConnect_RejectsMissingType(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/mcp/connect", bytes.NewBufferString(`{"config":{}}`))
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleConnect_StdioLongRunningProcess(t *testing.T) {
	s := newTestServer(t)
	// "cat" blocks reading stdin, so Start observes no immediate exit and the
	// connect succeeds - unlike a command that exits right away (§8 scenario 4).
	body := `{"config":{"type":"stdio","command":"cat","args":[]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/mcp/connect", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp connectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
}

func TestHandleDisconnect_IsIdempotent(t *testing.T) {
	s := newTestServer(t)
	body := `{"sessionId":"does-not-exist"}`
	req := httptest.NewRequest(http.MethodPost, "/api/mcp/disconnect", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestHandleSend_UnknownSessionIs404(t *testing.T) {
	s := newTestServer(t)
	body := `{"sessionId":"nope","message":{"jsonrpc":"2.0","id":1,"method":"ping"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/mcp/send", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStorage_RoundTrip(t *testing.T) {
	s := newTestServer(t)

	postReq := httptest.NewRequest(http.MethodPost, "/api/storage/sess1", bytes.NewBufferString(`{"a":1}`))
	postRec := httptest.NewRecorder()
	s.routes().ServeHTTP(postRec, postReq)
	require.Equal(t, http.StatusOK, postRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/storage/sess1", nil)
	getRec := httptest.NewRecorder()
	s.routes().ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	require.JSONEq(t, `{"a":1}`, getRec.Body.String())

	info, err := os.Stat(filepath.Join(s.cfg.StorageDir, "sess1.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	delReq := httptest.NewRequest(http.MethodDelete, "/api/storage/sess1", nil)
	delRec := httptest.NewRecorder()
	s.routes().ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	getAfterDelete := httptest.NewRequest(http.MethodGet, "/api/storage/sess1", nil)
	getAfterDeleteRec := httptest.NewRecorder()
	s.routes().ServeHTTP(getAfterDeleteRec, getAfterDelete)
	require.JSONEq(t, `{}`, getAfterDeleteRec.Body.String())
}

func TestHandleStorage_RejectsInvalidID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/storage/not%20valid", nil)
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleConfig_ReturnsInitialConfigDocument(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var doc broker.InitialConfigDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
}

func TestHandleFetch_RoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"hello":"world"}`))
	}))
	defer upstream.Close()

	s := newTestServer(t)
	body := `{"url":"` + upstream.URL + `","method":"GET"}`
	req := httptest.NewRequest(http.MethodPost, "/api/fetch", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out fetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Ok)
	require.Equal(t, http.StatusCreated, out.Status)
	require.NotEmpty(t, out.StatusText)
	require.Equal(t, "yes", out.Headers["X-Upstream"])
	require.JSONEq(t, `{"hello":"world"}`, out.Body)
	require.Empty(t, out.Error)
}

func TestHandleFetch_UpstreamErrorStatusIsNotOk(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	s := newTestServer(t)
	body := `{"url":"` + upstream.URL + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/fetch", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out fetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.False(t, out.Ok)
	require.Equal(t, http.StatusNotFound, out.Status)
}

func TestHandleFetch_RejectsMissingURL(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/fetch", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLog_AlwaysOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/log", bytes.NewBufferString(`{"level":"info","message":"hello"}`))
	rec := httptest.NewRecorder()

	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
