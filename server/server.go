package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/viant/mcp-broker/adapter"
	"github.com/viant/mcp-broker/broker"
)

// Server wires the Registry, KV store and policy middleware behind a
// gorilla/mux router, grounded in shape on transport/server/http.Server
// (embed http.Server, own Start/Shutdown) generalized with the richer
// routing/middleware pattern from ruaan-deysel-unraid-management-agent's
// daemon/services/api/server.go.
type Server struct {
	cfg      broker.Config
	registry *broker.Registry
	kv       *broker.KVStore
	logger   adapter.Logger

	httpServer *http.Server
}

// New builds a Server ready to Start.
func New(cfg broker.Config, registry *broker.Registry, kv *broker.KVStore, logger adapter.Logger) *Server {
	s := &Server{cfg: cfg, registry: registry, kv: kv, logger: logger}
	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.routes(),
	}
	return s
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/mcp/connect", s.handleConnect).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/mcp/send", s.handleSend).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/mcp/events", s.handleEvents).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/mcp/disconnect", s.handleDisconnect).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/fetch", s.handleFetch).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/log", s.handleLog).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/storage/{storeId}", s.handleStorage).Methods(http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions)
	router.HandleFunc("/api/config", s.handleConfig).Methods(http.MethodGet, http.MethodOptions)

	router.Use(recoveryMiddleware(s.logger))
	router.Use(originMiddleware(s.cfg.AllowedOrigins, s.logger))
	router.Use(authMiddleware(s.cfg.AuthToken, s.cfg.DangerouslyOmitAuth))

	return router
}

// Start runs the HTTP server until it is shut down. It blocks.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestTimeout bounds the connect, send, disconnect and fetch handlers.
// The log, storage and config handlers apply no timeout, and
// /api/mcp/events has no response-body timeout (§5).
const requestTimeout = 30 * time.Second
