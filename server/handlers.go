package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/viant/mcp-broker/adapter"
	"github.com/viant/mcp-broker/broker"
)

// wireConfig is the JSON shape of UpstreamConfig carried on POST
// /api/mcp/connect (§6.1): "type" selects the transport kind, the rest of the
// fields are kind-specific.
type wireConfig struct {
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (w wireConfig) toAdapterConfig() adapter.Config {
	return adapter.Config{
		Kind:    adapter.Kind(w.Type),
		Command: w.Command,
		Args:    w.Args,
		Env:     w.Env,
		Cwd:     w.Cwd,
		URL:     w.URL,
		Headers: w.Headers,
	}
}

type connectRequest struct {
	Config      wireConfig          `json:"config"`
	OAuthTokens *broker.OAuthTokens `json:"oauthTokens,omitempty"`
}

type connectResponse struct {
	SessionID string `json:"sessionId"`
}

// handleConnect implements POST /api/mcp/connect (§6.1).
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, broker.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	if req.Config.Type == "" {
		writeJSONError(w, broker.NewValidationError("config.type is required"))
		return
	}

	var injector adapter.TokenInjector
	if req.OAuthTokens != nil {
		injector = broker.NewTokenInjector(*req.OAuthTokens)
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, err := s.registry.Create(ctx, req.Config.toAdapterConfig(), injector)
	if err != nil {
		if adapter.IsUnauthorized(err) {
			writeJSONError(w, broker.NewAuthError("upstream authentication required: "+err.Error()))
			return
		}
		writeJSONError(w, broker.NewUpstreamError("Failed to start transport: "+err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, connectResponse{SessionID: id})
}

type sendRequest struct {
	SessionID        string          `json:"sessionId"`
	Message          json.RawMessage `json:"message"`
	RelatedRequestID interface{}     `json:"relatedRequestId,omitempty"`
}

// handleSend implements POST /api/mcp/send (§6.1).
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, broker.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}

	session, ok := s.registry.Get(req.SessionID)
	if !ok {
		writeJSONError(w, broker.NewLookupError("no such session: "+req.SessionID))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	opts := adapter.SendOptions{RelatedRequestID: req.RelatedRequestID}
	if err := session.Send(ctx, req.Message, opts); err != nil {
		writeJSONError(w, broker.NewUpstreamError(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type okResponse struct {
	OK bool `json:"ok"`
}

// handleDisconnect implements POST /api/mcp/disconnect (§6.1). Always
// idempotent: an unknown sessionId is not an error.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, broker.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	_ = s.registry.Delete(ctx, req.SessionID)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type fetchRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type fetchResponse struct {
	Ok         bool              `json:"ok"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// handleFetch implements POST /api/fetch (§6.1): a same-origin proxy for
// arbitrary HTTP, sparing the UI CORS/auth-flow pain. Streaming responses are
// reported with an absent body but passed-through status/headers, matching
// the Fetch Tracer's own streaming exemption (§4.2).
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, broker.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	if req.URL == "" {
		writeJSONError(w, broker.NewValidationError("url is required"))
		return
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		writeJSONError(w, broker.NewValidationError("invalid request: "+err.Error()))
		return
	}
	for k, v := range req.Headers {
		upstreamReq.Header.Set(k, v)
	}

	client := &http.Client{Transport: &adapter.Tracer{Category: "transport"}}
	resp, err := client.Do(upstreamReq)
	if err != nil {
		writeJSON(w, http.StatusOK, fetchResponse{Error: err.Error()})
		return
	}
	defer resp.Body.Close()

	out := fetchResponse{
		Ok:         resp.StatusCode < 400,
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Headers:    headerToMapServer(resp.Header),
	}
	contentType := resp.Header.Get("Content-Type")
	if !isStreamingContentTypeServer(contentType) {
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)); err == nil {
			out.Body = string(data)
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// handleLog implements POST /api/log (§6.1). There is no file-logger sink
// wired in this build, so every record is written through the broker's own
// logger; the response is always 200 regardless.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	var record map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&record)
	if s.logger != nil && len(record) > 0 {
		if data, err := json.Marshal(record); err == nil {
			s.logger.Errorf("client log: %s", string(data))
		}
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// handleStorage implements GET|POST|DELETE /api/storage/:storeId (§4.7, §6.1).
func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["storeId"]
	if !broker.ValidateStoreID(storeID) {
		writeJSONError(w, broker.NewValidationError("invalid storeId"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := s.kv.Get(storeID)
		if err != nil {
			writeJSONError(w, broker.NewInternalError(err.Error()))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc)

	case http.MethodPost:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSONError(w, broker.NewValidationError("failed to read body: "+err.Error()))
			return
		}
		if !json.Valid(data) {
			writeJSONError(w, broker.NewValidationError("body must be valid JSON"))
			return
		}
		if err := s.kv.Put(storeID, data); err != nil {
			writeJSONError(w, broker.NewInternalError(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true})

	case http.MethodDelete:
		if err := s.kv.Delete(storeID); err != nil {
			writeJSONError(w, broker.NewInternalError(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true})
	}
}

// handleConfig implements GET /api/config (§6.1).
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.InitialConfig())
}

func headerToMapServer(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func isStreamingContentTypeServer(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson")
}
