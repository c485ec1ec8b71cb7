// Package adapter implements the Transport Adapter: a uniform interface over
// child-process stdio, SSE, and streamable-HTTP upstream MCP servers.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonrpc "github.com/viant/mcp-broker"
)

// Kind identifies the upstream transport variant.
type Kind string

const (
	KindStdio          Kind = "stdio"
	KindSSE             Kind = "sse"
	KindStreamableHTTP Kind = "streamableHttp"
)

// Config describes how to reach an upstream MCP server. Exactly one of the
// kind-specific field groups is populated, selected by Kind.
type Config struct {
	Kind Kind

	// stdio
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string

	// sse / streamableHttp
	URL     string
	Headers map[string]string
}

// State is the Transport Adapter's lifecycle state machine:
// created -> starting -> running -> {closedOK, failed}.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateClosedOK
	StateFailed
)

// SendOptions tags an outbound frame with broker-level metadata. It does not
// affect wire encoding.
type SendOptions struct {
	RelatedRequestID any
}

// Error wraps a terminal adapter failure. HTTPStatus, when non-zero, is a
// structured status the adapter observed (e.g. 401 on the connect handshake)
// and takes priority over substring-matching the message text.
type Error struct {
	Err        error
	HTTPStatus int
	Code       int
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "adapter error"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// IsUnauthorized reports whether err represents an upstream 401, preferring
// the structured HTTPStatus field and falling back to substring matching the
// message only when no status is available (resolves the spec's Open
// Question on 401 detection).
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	if jsonrpc.IsUnauthorized(err) {
		return true
	}
	var ae *Error
	if asError(err, &ae) {
		if ae.HTTPStatus != 0 {
			return ae.HTTPStatus == 401
		}
		return containsAny(ae.Error(), "401", "Unauthorized")
	}
	return containsAny(err.Error(), "401", "Unauthorized")
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// EventKind tags the variant carried by Event.
type EventKind string

const (
	EventMessage       EventKind = "message"
	EventStderr        EventKind = "stderr"
	EventFetchTrace    EventKind = "fetch_request"
	EventTransportError EventKind = "transport_error"
)

// Event is the tagged union an Adapter emits on its event channel. Exactly
// one of the payload fields is populated, matching Kind.
type Event struct {
	Kind EventKind

	// EventMessage
	Frame json.RawMessage

	// EventStderr
	Timestamp time.Time
	Line      string

	// EventFetchTrace
	FetchTrace *FetchTraceEntry

	// EventTransportError
	ErrorText string
	ErrorCode int
}

// TokenInjector surfaces a pre-issued OAuth access token to http-based
// adapters. It is a read-only shim, not an OAuth state machine.
type TokenInjector interface {
	AuthHeader() (name, value string, ok bool)
}

// Adapter is the uniform contract the broker drives regardless of upstream
// kind. Start is not guarded against repeated calls: each call spawns the
// process or opens the upstream stream again. After Close returns, no
// further event is sent on the channel passed to New.
type Adapter interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, frame json.RawMessage, opts SendOptions) error
	Close(ctx context.Context) error
	State() State
}

// New builds the concrete Adapter for cfg, wiring the Fetch Tracer into
// http-based variants and publishing events on events. events is never
// closed by the adapter; the caller owns its lifetime.
func New(cfg Config, tokens TokenInjector, events chan<- Event, logger Logger) (Adapter, error) {
	switch cfg.Kind {
	case KindStdio:
		return newStdioAdapter(cfg, events, logger), nil
	case KindSSE:
		return newSSEAdapter(cfg, tokens, events, logger), nil
	case KindStreamableHTTP:
		return newStreamableAdapter(cfg, tokens, events, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// Logger is the minimal logging dependency adapters take; satisfied by
// jsonrpc.Logger/LeveledLogger without importing the jsonrpc package here to
// keep this package free of a dependency edge back to the wire envelope.
type Logger interface {
	Errorf(format string, args ...interface{})
}
