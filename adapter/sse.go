package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs/url"
	jsonrpc "github.com/viant/mcp-broker"
)

// sseAdapter connects to an upstream MCP server over the legacy HTTP+SSE
// transport: a GET stream delivers an "endpoint" handshake event followed by
// "message" events, and outbound frames are POSTed to the endpoint the
// handshake announced. Grounded on transport/client/http/sse.Client/Transport.
type sseAdapter struct {
	cfg    Config
	tokens TokenInjector
	events chan<- Event
	logger Logger

	handshakeTimeout time.Duration
	httpClient       *http.Client

	mu       sync.Mutex
	state    State
	endpoint string
}

func newSSEAdapter(cfg Config, tokens TokenInjector, events chan<- Event, logger Logger) *sseAdapter {
	tracer := &Tracer{Category: "transport"}
	client := &http.Client{Transport: tracer}
	tracer.Sink = func(entry FetchTraceEntry) {
		select {
		case events <- Event{Kind: EventFetchTrace, FetchTrace: &entry}:
		default:
		}
	}
	return &sseAdapter{
		cfg:              cfg,
		tokens:           tokens,
		events:           events,
		logger:           logger,
		handshakeTimeout: 30 * time.Second,
		httpClient:       client,
		state:            StateCreated,
	}
}

func (a *sseAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *sseAdapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *sseAdapter) Start(ctx context.Context) error {
	a.setState(StateStarting)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.URL, nil)
	if err != nil {
		a.setState(StateFailed)
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")
	a.applyHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.setState(StateFailed)
		return &Error{Err: fmt.Errorf("failed to connect to SSE stream: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		a.setState(StateFailed)
		if resp.StatusCode == http.StatusUnauthorized {
			return &Error{Err: jsonrpc.NewUnauthorizedError(resp.StatusCode, body), HTTPStatus: resp.StatusCode}
		}
		return &Error{
			Err:        fmt.Errorf("invalid status code: %d: %s", resp.StatusCode, string(body)),
			HTTPStatus: resp.StatusCode,
		}
	}

	reader := bufio.NewReader(resp.Body)
	hctx, cancel := context.WithTimeout(ctx, a.handshakeTimeout)
	defer cancel()
	evt, err := readSSEFrame(hctx, reader)
	if err != nil || evt.Event != "endpoint" || evt.Data == "" {
		_ = resp.Body.Close()
		a.setState(StateFailed)
		if err == nil {
			err = fmt.Errorf("unexpected handshake event: %q", evt.Event)
		}
		return &Error{Err: err}
	}

	a.mu.Lock()
	a.endpoint = url.Join(baseOf(a.cfg.URL), evt.Data)
	a.mu.Unlock()

	a.setState(StateRunning)
	// listen runs for the Session's lifetime, independent of this Start
	// call's (request-scoped) ctx - it must outlive the HTTP handler that
	// invoked Start, the same detachment streamableAdapter.openStream uses.
	go a.listen(context.Background(), resp.Body, reader)
	return nil
}

func (a *sseAdapter) listen(ctx context.Context, body io.ReadCloser, reader *bufio.Reader) {
	defer body.Close()
	for {
		evt, err := readSSEFrame(ctx, reader)
		if err != nil {
			a.reportTransportDeath(err.Error(), 0)
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

// reportTransportDeath marks the adapter failed and emits the terminal event,
// unless Close already put it into StateClosedOK - an intentional shutdown
// is not a transport death.
func (a *sseAdapter) reportTransportDeath(text string, code int) {
	a.mu.Lock()
	if a.state == StateClosedOK {
		a.mu.Unlock()
		return
	}
	a.state = StateFailed
	a.mu.Unlock()
	a.emitTransportError(text, code)
}

// emitTransportError delivers the terminal event with a blocking send: unlike
// ordinary message/stderr/fetch events, it must never be dropped by a full
// queue (§4.3), so it cannot use the same non-blocking default case those use.
func (a *sseAdapter) emitTransportError(text string, code int) {
	a.events <- Event{Kind: EventTransportError, ErrorText: text, ErrorCode: code}
}

func (a *sseAdapter) Send(ctx context.Context, frame json.RawMessage, _ SendOptions) error {
	a.mu.Lock()
	endpoint := a.endpoint
	a.mu.Unlock()
	if endpoint == "" {
		return fmt.Errorf("sse adapter handshake incomplete")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	a.applyHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusUnauthorized {
			return &Error{Err: jsonrpc.NewUnauthorizedError(resp.StatusCode, body), HTTPStatus: resp.StatusCode}
		}
		return &Error{
			Err:        fmt.Errorf("send failed with status %d: %s", resp.StatusCode, string(body)),
			HTTPStatus: resp.StatusCode,
		}
	}
	return nil
}

func (a *sseAdapter) Close(ctx context.Context) error {
	a.setState(StateClosedOK)
	return nil
}

func (a *sseAdapter) applyHeaders(req *http.Request) {
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}
	if a.tokens != nil {
		if name, value, ok := a.tokens.AuthHeader(); ok {
			req.Header.Set(name, value)
		}
	}
}

type sseFrame struct {
	Event string
	Data  string
}

// readSSEFrame parses one SSE event terminated by a blank line, shared in
// shape with transport/client/http/{sse,streamable}'s readers.
func readSSEFrame(ctx context.Context, reader *bufio.Reader) (*sseFrame, error) {
	var hasData, hasEvent bool
	evt := &sseFrame{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			line, err := reader.ReadString('\n')
			if err != nil {
				return nil, err
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				if hasData || hasEvent {
					return evt, nil
				}
				continue
			}
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				hasEvent = true
			case strings.HasPrefix(line, "data:"):
				evt.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				hasData = true
			}
		}
	}
}

func baseOf(rawURL string) string {
	schema := url.Scheme(rawURL, "http")
	host := url.Host(rawURL)
	return fmt.Sprintf("%s://%s", schema, host)
}
