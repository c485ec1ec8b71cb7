package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/viant/mcp-broker/adapter"
	"github.com/viant/mcp-broker/broker"
)

// flushWriter wraps http.ResponseWriter and flushes every write immediately,
// grounded on transport/server/http/common.FlushWriter.
type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	flusher, _ := w.(http.Flusher)
	return &flushWriter{w: w, flusher: flusher}
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil && fw.flusher != nil {
		fw.flusher.Flush()
	}
	return n, err
}

func (fw *flushWriter) writeEvent(event string, data []byte) error {
	if _, err := fmt.Fprintf(fw, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return nil
}

type stderrPayload struct {
	Timestamp interface{} `json:"timestamp"`
	Message   string      `json:"message"`
}

type transportErrorPayload struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// handleEvents implements GET /api/mcp/events (§4.6, §6.1): the single SSE
// fan-out channel multiplexing message/stderr/fetch_request/transport_error
// for one Session.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	session, ok := s.registry.Get(sessionID)
	if !ok {
		writeJSONError(w, broker.NewLookupError("no such session: "+sessionID))
		return
	}

	flusher, supportsFlush := w.(http.Flusher)
	if !supportsFlush {
		writeJSONError(w, broker.NewInternalError("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush() // flush headers before awaiting the first event; see §4.6

	fw := newFlushWriter(w)
	token := session.BindConsumer()

	ctx := r.Context()
	defer func() {
		session.UnbindConsumer(token)
		s.registry.ReapIfIdle(context.Background(), sessionID)
	}()

	for {
		evt, err := session.Next(ctx, token)
		if err != nil {
			return
		}
		if writeErr := s.writeSSEEvent(fw, evt); writeErr != nil {
			return
		}
		if evt.Kind == adapter.EventTransportError {
			return
		}
	}
}

func (s *Server) writeSSEEvent(fw *flushWriter, evt adapter.Event) error {
	switch evt.Kind {
	case adapter.EventMessage:
		return fw.writeEvent("message", evt.Frame)

	case adapter.EventStderr:
		data, _ := json.Marshal(stderrPayload{Timestamp: evt.Timestamp, Message: evt.Line})
		return fw.writeEvent("stderr", data)

	case adapter.EventFetchTrace:
		data, _ := json.Marshal(evt.FetchTrace)
		return fw.writeEvent("fetch_request", data)

	case adapter.EventTransportError:
		data, _ := json.Marshal(transportErrorPayload{Error: evt.ErrorText, Code: evt.ErrorCode})
		return fw.writeEvent("transport_error", data)
	}
	return nil
}
