// Package broker implements the Session, Session Registry, KV store and
// Token Injector: the parts of the broker that sit between the HTTP surface
// and the Transport Adapter layer.
package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viant/mcp-broker/adapter"
)

// DefaultQueueSize is the per-session event queue bound (MCP_BROKER_QUEUE_SIZE
// overrides it), resolving the spec's queue-bound Open Question.
const DefaultQueueSize = 4096

// Session owns one Transport Adapter plus a bounded event queue and at most
// one event consumer. Grounded on transport/server/base.Session's
// mutex-guarded ring buffer, generalized so the queue feeds an explicit
// consumer channel instead of an io.Writer.
type Session struct {
	ID        string
	CreatedAt time.Time

	Adapter adapter.Adapter

	mu            sync.Mutex
	queue         []adapter.Event
	queueCap      int
	terminal      *adapter.Event
	terminalSent  bool
	consumerToken uint64
	signal        chan struct{}
	revoked       chan struct{}

	transportDead int32
	lastError     string
	lastErrorCode int

	logger     adapter.Logger
	cancelPump context.CancelFunc
}

// NewSession constructs a Session with the given queue bound.
func NewSession(id string, a adapter.Adapter, queueCap int, logger adapter.Logger) *Session {
	if queueCap <= 0 {
		queueCap = DefaultQueueSize
	}
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Adapter:   a,
		queueCap:  queueCap,
		signal:    make(chan struct{}, 1),
		logger:    logger,
	}
}

// Pump reads from the adapter's event channel until it is closed or ctx is
// done, enqueuing each event. It is meant to run in its own goroutine for
// the Session's lifetime (the "goroutine per Session" of the concurrency
// model).
func (s *Session) Pump(ctx context.Context, events <-chan adapter.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.enqueue(evt)
		}
	}
}

func (s *Session) enqueue(evt adapter.Event) {
	s.mu.Lock()
	if evt.Kind == adapter.EventTransportError {
		if s.terminal == nil {
			e := evt
			s.terminal = &e
			atomic.StoreInt32(&s.transportDead, 1)
			s.lastError = evt.ErrorText
			s.lastErrorCode = evt.ErrorCode
		}
	} else {
		if len(s.queue) >= s.queueCap {
			s.queue = s.queue[1:] // drop-oldest-non-terminal overflow policy
		}
		s.queue = append(s.queue, evt)
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Session) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// TransportDead reports whether the upstream transport has died. Monotonic:
// once true it never reverts.
func (s *Session) TransportDead() bool {
	return atomic.LoadInt32(&s.transportDead) == 1
}

// LastError returns the preserved error text/code set when TransportDead
// became true; empty if the transport is still alive.
func (s *Session) LastError() (text string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError, s.lastErrorCode
}

// HasConsumer reports whether a consumer is currently bound.
func (s *Session) HasConsumer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumerToken != 0
}

// BindConsumer claims the single consumer slot, deterministically preempting
// any previous holder (its Next call returns ErrConsumerPreempted). It
// returns a token that must be passed to Next/UnbindConsumer.
func (s *Session) BindConsumer() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked != nil {
		close(s.revoked)
	}
	s.consumerToken++
	s.revoked = make(chan struct{})
	return s.consumerToken
}

// UnbindConsumer releases the slot if token is still the current holder. If
// the transport is already dead, the caller should consult TransportDead and
// ask the Registry to reap the session.
func (s *Session) UnbindConsumer(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumerToken == token {
		s.consumerToken = 0
	}
}

// ErrConsumerPreempted is returned by Next when a newer BindConsumer call has
// taken over the consumer slot.
type ErrConsumerPreempted struct{}

func (ErrConsumerPreempted) Error() string { return "consumer preempted by a newer binding" }

// ErrSessionClosed is returned by Next once both the queue and the terminal
// event have been fully drained and no more events will ever arrive.
type ErrSessionClosed struct{}

func (ErrSessionClosed) Error() string { return "session closed: no further events" }

// Next blocks until an event is available for token, ctx is canceled, or
// token is preempted by a newer BindConsumer call. Because every event -
// queued or terminal - flows through this single FIFO pop, "flush queued
// events before accepting new ones" falls out for free: there is only ever
// one queue.
func (s *Session) Next(ctx context.Context, token uint64) (adapter.Event, error) {
	for {
		s.mu.Lock()
		if s.consumerToken != token {
			s.mu.Unlock()
			return adapter.Event{}, ErrConsumerPreempted{}
		}
		if len(s.queue) > 0 {
			evt := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return evt, nil
		}
		if s.terminal != nil && !s.terminalSent {
			s.terminalSent = true
			evt := *s.terminal
			s.mu.Unlock()
			return evt, nil
		}
		if s.terminal != nil && s.terminalSent {
			s.mu.Unlock()
			return adapter.Event{}, ErrSessionClosed{}
		}
		revoked := s.revoked
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return adapter.Event{}, ctx.Err()
		case <-revoked:
			return adapter.Event{}, ErrConsumerPreempted{}
		case <-s.signal:
		}
	}
}

// Send relays a frame to the upstream transport, rejecting it once the
// transport is dead.
func (s *Session) Send(ctx context.Context, frame []byte, opts adapter.SendOptions) error {
	if s.TransportDead() {
		text, _ := s.LastError()
		return &TransportDeadError{Text: text}
	}
	return s.Adapter.Send(ctx, frame, opts)
}

// TransportDeadError is returned by Send once the Session's transport has
// died; Text preserves the error captured at death.
type TransportDeadError struct{ Text string }

func (e *TransportDeadError) Error() string { return e.Text }

// Close releases the Transport Adapter. Safe to call multiple times.
func (s *Session) Close(ctx context.Context) error {
	return s.Adapter.Close(ctx)
}
