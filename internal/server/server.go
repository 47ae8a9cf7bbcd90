// Package server exposes the engine's Prometheus metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const readHeaderTimeout = 5 * time.Second

// Server wraps an http.Server with lifecycle management.
type Server struct {
	http   *http.Server
	logger *slog.Logger
	addr   net.Addr
	done   chan struct{}
}

// New creates a server that serves handler at /metrics with request logging.
func New(handler http.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Server{
		http: &http.Server{
			Handler:           LoggingMiddleware(logger)(mux),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start listens on addr and serves in the background. Use ":0" for an
// ephemeral port; Addr reports the bound address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen for metrics: %w", err)
	}
	s.addr = ln.Addr()
	s.logger.Info("serving metrics", "addr", s.addr.String())

	go func() {
		defer close(s.done)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown stops accepting connections and waits for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.addr == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	<-s.done
	return err
}
