package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"

	jsonrpc "github.com/viant/mcp-broker"
	"golang.org/x/net/publicsuffix"
)

const streamableProtocolVersion = "2025-06-18"
const sessionHeaderName = "Mcp-Session-Id"

// streamableAdapter implements the MCP 2025-06-18 streamable-HTTP transport:
// a POST handshake establishes a session id, a long-lived GET stream
// delivers server-initiated messages, and subsequent POSTs either return an
// inline JSON response or an SSE stream whose message events are each
// forwarded as their own event.
// Grounded on transport/client/http/streamable.{Client,Transport}.
type streamableAdapter struct {
	cfg    Config
	tokens TokenInjector
	events chan<- Event
	logger Logger

	httpClient *http.Client

	mu        sync.Mutex
	state     State
	sessionID string
}

func newStreamableAdapter(cfg Config, tokens TokenInjector, events chan<- Event, logger Logger) *streamableAdapter {
	tracer := &Tracer{Category: "transport"}
	// cookiejar.New(nil) falls back to a minimal built-in suffix list;
	// publicsuffix.List is the accurate, maintained one, same package the
	// teacher's origin-policy code uses for host comparison.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	client := &http.Client{Transport: tracer, Jar: jar}
	tracer.Sink = func(entry FetchTraceEntry) {
		select {
		case events <- Event{Kind: EventFetchTrace, FetchTrace: &entry}:
		default:
		}
	}
	return &streamableAdapter{
		cfg:        cfg,
		tokens:     tokens,
		events:     events,
		logger:     logger,
		httpClient: client,
		state:      StateCreated,
	}
}

func (a *streamableAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *streamableAdapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Start issues a zero-body GET probe so a dead or unauthorized upstream
// surfaces synchronously; no JSON-RPC handshake is sent. If the probe
// response carries a session id, Start records it and opens the background
// stream; otherwise the id is captured off the first POST (see Send),
// matching the teacher's Transport.SendData behavior where the handshake
// happens lazily on first use.
func (a *streamableAdapter) Start(ctx context.Context) error {
	a.setState(StateStarting)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.URL, nil)
	if err != nil {
		a.setState(StateFailed)
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("MCP-Protocol-Version", streamableProtocolVersion)
	a.applyHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.setState(StateFailed)
		return &Error{Err: fmt.Errorf("failed to reach upstream: %w", err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusMethodNotAllowed, http.StatusNotFound:
		// MethodNotAllowed/NotFound are acceptable here: some servers only
		// support the stream after a POST handshake and reject a bare GET.
		a.setState(StateRunning)
		if sid := resp.Header.Get(sessionHeaderName); sid != "" {
			a.mu.Lock()
			a.sessionID = sid
			a.mu.Unlock()
			go a.openStream(context.Background())
		}
		return nil
	case http.StatusUnauthorized:
		a.setState(StateFailed)
		body, _ := io.ReadAll(resp.Body)
		return &Error{Err: jsonrpc.NewUnauthorizedError(http.StatusUnauthorized, body), HTTPStatus: http.StatusUnauthorized}
	default:
		a.setState(StateFailed)
		return &Error{Err: fmt.Errorf("unexpected status %d during handshake", resp.StatusCode), HTTPStatus: resp.StatusCode}
	}
}

func (a *streamableAdapter) openStream(ctx context.Context) {
	a.mu.Lock()
	sid := a.sessionID
	a.mu.Unlock()
	if sid == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.URL, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(sessionHeaderName, sid)
	req.Header.Set("MCP-Protocol-Version", streamableProtocolVersion)
	a.applyHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.reportTransportDeath(err.Error(), 0)
		return
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		a.reportTransportDeath(fmt.Sprintf("stream reopen failed with status %d", resp.StatusCode), resp.StatusCode)
		return
	}
	defer resp.Body.Close()
	a.drainSSE(ctx, bufio.NewReader(resp.Body), true)
}

// reportTransportDeath marks the adapter failed and emits the terminal event,
// unless Close already put it into StateClosedOK - an intentional shutdown
// is not a transport death.
func (a *streamableAdapter) reportTransportDeath(text string, code int) {
	a.mu.Lock()
	if a.state == StateClosedOK {
		a.mu.Unlock()
		return
	}
	a.state = StateFailed
	a.mu.Unlock()
	a.emitTransportError(text, code)
}

func (a *streamableAdapter) emitTransportError(text string, code int) {
	a.events <- Event{Kind: EventTransportError, ErrorText: text, ErrorCode: code}
}

// drainSSE reads "message" events from reader until it errors or ctx is
// done. report controls whether a read error is treated as transport death:
// true for the long-lived GET stream opened by openStream, false for the
// per-request SSE response a POST may return from Send, whose end is a
// normal request completion, not a connection failure.
func (a *streamableAdapter) drainSSE(ctx context.Context, reader *bufio.Reader, report bool) {
	for {
		evt, err := readSSEFrame(ctx, reader)
		if err != nil {
			if report {
				a.reportTransportDeath(err.Error(), 0)
			}
			return
		}
		if evt.Event != "message" || strings.TrimSpace(evt.Data) == "" {
			continue
		}
		select {
		case a.events <- Event{Kind: EventMessage, Frame: json.RawMessage(evt.Data)}:
		default:
		}
	}
}

func (a *streamableAdapter) Send(ctx context.Context, frame json.RawMessage, _ SendOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("MCP-Protocol-Version", streamableProtocolVersion)
	a.mu.Lock()
	sid := a.sessionID
	a.mu.Unlock()
	if sid != "" {
		req.Header.Set(sessionHeaderName, sid)
	}
	a.applyHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if newSID := resp.Header.Get(sessionHeaderName); newSID != "" {
		a.mu.Lock()
		isNew := a.sessionID != newSID
		a.sessionID = newSID
		a.mu.Unlock()
		if isNew {
			go a.openStream(context.Background())
		}
	}

	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "text/event-stream") {
		a.drainSSE(ctx, bufio.NewReader(resp.Body), false)
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		if len(body) > 0 {
			select {
			case a.events <- Event{Kind: EventMessage, Frame: json.RawMessage(body)}:
			default:
			}
		}
		return nil
	case http.StatusUnauthorized:
		return &Error{Err: jsonrpc.NewUnauthorizedError(http.StatusUnauthorized, body), HTTPStatus: http.StatusUnauthorized}
	default:
		return &Error{Err: fmt.Errorf("invalid status code: %d: %s", resp.StatusCode, body), HTTPStatus: resp.StatusCode}
	}
}

func (a *streamableAdapter) Close(ctx context.Context) error {
	a.setState(StateClosedOK)
	a.mu.Lock()
	sid := a.sessionID
	a.mu.Unlock()
	if sid == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.cfg.URL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set(sessionHeaderName, sid)
	a.applyHeaders(req)
	resp, err := a.httpClient.Do(req)
	if err == nil {
		_ = resp.Body.Close()
	}
	return nil
}

func (a *streamableAdapter) applyHeaders(req *http.Request) {
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}
	if a.tokens != nil {
		if name, value, ok := a.tokens.AuthHeader(); ok {
			req.Header.Set(name, value)
		}
	}
}
