package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
)

// stdioAdapter spawns the upstream MCP server as a child process and relays
// newline-delimited JSON-RPC frames over its stdout/stdin, mirroring
// transport/client/stdio.Client's runner.Runner usage but emitting onto an
// event channel instead of a base.Client.
type stdioAdapter struct {
	cfg    Config
	events chan<- Event
	logger Logger

	mu     sync.Mutex
	state  State
	client runner.Runner
	cancel context.CancelFunc

	startErr     chan error
	startReplied bool
}

func newStdioAdapter(cfg Config, events chan<- Event, logger Logger) *stdioAdapter {
	return &stdioAdapter{
		cfg:      cfg,
		events:   events,
		logger:   logger,
		state:    StateCreated,
		startErr: make(chan error, 1),
	}
}

func (a *stdioAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *stdioAdapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Start spawns the child process. Callbacks (via the events channel) are
// wired before the process is launched so a failure during start is
// observed synchronously rather than surfacing later as a silent close,
// per the spec's "failed-during-start" requirement.
func (a *stdioAdapter) Start(ctx context.Context) error {
	a.setState(StateStarting)
	a.client = local.New(runner.AsPipeline())

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	cmd := a.cfg.Command
	if len(a.cfg.Args) > 0 {
		cmd = fmt.Sprintf("%s %s", a.cfg.Command, strings.Join(a.cfg.Args, " "))
	}

	go a.run(runCtx, cmd)

	select {
	case err := <-a.startErr:
		if err != nil {
			a.setState(StateFailed)
			return err
		}
		a.setState(StateRunning)
		return nil
	case <-time.After(2 * time.Second):
		// no immediate failure observed; treat as successfully started and
		// keep watching for a delayed exit in the background.
		a.mu.Lock()
		if !a.startReplied {
			a.startReplied = true
			a.state = StateRunning
			a.mu.Unlock()
			return nil
		}
		a.mu.Unlock()
		// run claimed the reply first; its result is already on its way.
		if err := <-a.startErr; err != nil {
			a.setState(StateFailed)
			return err
		}
		a.setState(StateRunning)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *stdioAdapter) run(ctx context.Context, cmd string) {
	listener := a.lineListener()
	_, code, err := a.client.Run(ctx, cmd, runner.WithEnvironment(a.cfg.Env), runner.WithListener(listener))

	a.mu.Lock()
	alreadyReplied := a.startReplied
	a.startReplied = true
	closedIntentionally := a.state == StateClosedOK
	a.mu.Unlock()

	// AsPipeline keeps Run blocked for as long as the child process is alive;
	// it returning at all - any code other than the teacher's "still running"
	// sentinel of -1 - means the upstream MCP server has exited, which is
	// always a transport death for a persistent stdio session.
	var failure error
	switch {
	case err != nil:
		failure = err
	case code != -1:
		failure = fmt.Errorf("command exited with code %d", code)
	}

	if !alreadyReplied {
		// still inside Start's select — report synchronously so a process
		// that exits immediately surfaces as a startError, not a late close.
		a.startErr <- failure
		if failure == nil {
			return
		}
	}

	if failure == nil || closedIntentionally {
		// Close already put the adapter in StateClosedOK and stopped the
		// Session's consumer; Run returning because its context was
		// canceled is not a transport death and must not try to deliver an
		// event nobody is left to drain.
		return
	}

	a.mu.Lock()
	if a.state == StateClosedOK {
		a.mu.Unlock()
		return
	}
	a.state = StateFailed
	a.mu.Unlock()

	if alreadyReplied {
		a.emitTransportError(failure.Error(), 0)
	}
}

func (a *stdioAdapter) lineListener() runner.Listener {
	var builder strings.Builder
	return func(chunk string, hasMore bool) {
		builder.WriteString(chunk)
		for {
			s := builder.String()
			idx := strings.IndexByte(s, '\n')
			if idx == -1 {
				break
			}
			line := strings.TrimRight(s[:idx], "\r")
			builder.Reset()
			builder.WriteString(s[idx+1:])
			a.dispatchLine(line)
		}
	}
}

// dispatchLine classifies a line of child-process output: a line that
// parses as a JSON object is an upstream message frame, anything else is
// treated as stderr/log chatter. The upstream runner used here does not
// expose stdout and stderr as independently addressable streams, so this
// best-effort classification is the adapter's substitute for the separate
// onStderr callback other MCP transports offer natively.
func (a *stdioAdapter) dispatchLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if json.Valid([]byte(line)) {
		select {
		case a.events <- Event{Kind: EventMessage, Frame: json.RawMessage(line)}:
		default:
		}
		return
	}
	select {
	case a.events <- Event{Kind: EventStderr, Timestamp: time.Now(), Line: line}:
	default:
	}
}

// emitTransportError delivers the terminal event with a blocking send: unlike
// ordinary message/stderr events, it must never be dropped by a full queue
// (§4.3), so it cannot use the same non-blocking default case those use.
// Pump continuously drains the channel for the Session's lifetime, so this
// only blocks as long as it takes the consumer side to catch up - it never
// blocks forever short of the Session having been torn down first, and run's
// ClosedOK check above ensures that case never reaches here.
func (a *stdioAdapter) emitTransportError(text string, code int) {
	a.events <- Event{Kind: EventTransportError, ErrorText: text, ErrorCode: code}
}

func (a *stdioAdapter) Send(ctx context.Context, frame json.RawMessage, _ SendOptions) error {
	if a.State() != StateRunning {
		return fmt.Errorf("stdio adapter is not running")
	}
	if a.client == nil {
		return fmt.Errorf("stdio adapter has no active process")
	}
	_, err := a.client.Send(ctx, append(frame, '\n'))
	return err
}

// Close cancels the context the child process's Run call was started with.
// The teacher's runner.Runner exposes no separate stdin-close/kill method; a
// canceled context is the mechanism its Run(ctx, ...) already accepts.
func (a *stdioAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateClosedOK || a.state == StateFailed {
		a.mu.Unlock()
		return nil
	}
	a.state = StateClosedOK
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}
