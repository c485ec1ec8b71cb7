// Command mcp-broker runs the MCP Inspector remote broker: a long-lived HTTP
// service that owns upstream MCP sessions on behalf of an out-of-process
// client. It follows the usual Go service entrypoint shape: load
// configuration from the environment and run an http.Server under
// signal.NotifyContext.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsonrpc "github.com/viant/mcp-broker"
	"github.com/viant/mcp-broker/broker"
	"github.com/viant/mcp-broker/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := broker.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := jsonrpc.NewLeveledLogger(os.Stderr, jsonrpc.ParseLevel(cfg.LogLevel))

	registry := broker.NewRegistry(cfg.QueueSize, logger)
	kv := broker.NewKVStore(cfg.StorageDir)
	srv := server.New(cfg, registry, kv, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("mcp-broker listening on %s", cfg.Addr)
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Infof("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	registry.ShutdownAll(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}
