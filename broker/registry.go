package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viant/mcp-broker/adapter"
	"github.com/viant/mcp-broker/internal/collection"
)

// Registry is the process-wide session-id -> Session mapping. Grounded on
// transport/server/base.SessionStore / memorySessionStore, reimplemented
// over the reconstructed internal/collection.SyncMap.
type Registry struct {
	sessions  *collection.SyncMap[string, *Session]
	queueSize int
	logger    adapter.Logger
}

// NewRegistry creates an empty Registry. queueSize is the default per-session
// event queue bound (see DefaultQueueSize).
func NewRegistry(queueSize int, logger adapter.Logger) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		sessions:  collection.NewSyncMap[string, *Session](),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Create builds a Transport Adapter for cfg, starts it, and on success
// registers a new Session under a freshly generated id. On startError the
// adapter is not registered and the error is returned as-is so the HTTP
// surface can classify it (e.g. map a 401 to HTTP 401).
func (r *Registry) Create(ctx context.Context, cfg adapter.Config, tokens adapter.TokenInjector) (string, error) {
	events := make(chan adapter.Event, r.queueSize)
	a, err := adapter.New(cfg, tokens, events, r.logger)
	if err != nil {
		return "", err
	}
	if err := a.Start(ctx); err != nil {
		return "", err
	}

	id := uuid.NewString()
	session := NewSession(id, a, r.queueSize, r.logger)

	pumpCtx, cancel := context.WithCancel(context.Background())
	session.cancelPump = cancel
	go session.Pump(pumpCtx, events)

	r.sessions.Put(id, session)
	return id, nil
}

// Get looks up a Session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

// Adopt registers an already-constructed Session under its own ID, bypassing
// adapter construction. Exported for tests that need to drive the HTTP
// surface against a fake Transport Adapter.
func (r *Registry) Adopt(session *Session) {
	r.sessions.Put(session.ID, session)
}

// Delete closes the Session's transport and removes it from the map. Safe
// to call multiple times (a missing session is a no-op).
func (r *Registry) Delete(ctx context.Context, id string) error {
	session, ok := r.sessions.Get(id)
	if !ok {
		return nil
	}
	r.sessions.Delete(id)
	if session.cancelPump != nil {
		session.cancelPump()
	}
	return session.Close(ctx)
}

// ReapIfIdle removes the Session if its transport is dead and it has no
// bound consumer, per the Registry's reap policy (§4.4).
func (r *Registry) ReapIfIdle(ctx context.Context, id string) {
	session, ok := r.sessions.Get(id)
	if !ok {
		return
	}
	if session.TransportDead() && !session.HasConsumer() {
		_ = r.Delete(ctx, id)
	}
}

// Size returns the number of currently registered sessions.
func (r *Registry) Size() int {
	return r.sessions.Len()
}

// ShutdownAll best-effort closes every Session; errors are logged and
// swallowed so one stuck transport cannot block process shutdown.
func (r *Registry) ShutdownAll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var ids []string
	r.sessions.Range(func(id string, _ *Session) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if err := r.Delete(ctx, id); err != nil && r.logger != nil {
			r.logger.Errorf("shutdown: failed to close session %s: %v", id, err)
		}
	}
}
