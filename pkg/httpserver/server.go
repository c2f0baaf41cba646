// Package httpserver provides the HTTP server lifecycle, middleware and JSON
// envelope helpers shared by the pulse services.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	ServiceName     string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	// WriteTimeout stays zero by default; websocket and long-poll handlers
	// manage their own deadlines.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns defaults for the given port and service.
func DefaultServerConfig(port int, serviceName string) ServerConfig {
	return ServerConfig{
		Port:            port,
		ServiceName:     serviceName,
		ShutdownTimeout: 30 * time.Second,
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     120 * time.Second,
	}
}

// Server wraps an http.Server and a chi router with lifecycle management.
type Server struct {
	router chi.Router
	config ServerConfig
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a server whose router already carries the request ID,
// logging and recovery middleware.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(RequestID, Logging(logger), Recovery(logger))

	return &Server{
		router: r,
		config: cfg,
		logger: logger,
	}
}

// Router returns the router for route registration.
func (s *Server) Router() chi.Router {
	return s.router
}

// Addr returns the bound address once Run has started listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until the context is cancelled, a
// termination signal arrives, or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	srv := &http.Server{
		Handler:      otelhttp.NewHandler(s.router, s.config.ServiceName),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdownCh)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "addr", lis.Addr().String(), "service", s.config.ServiceName)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	case sig := <-shutdownCh:
		s.logger.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	return s.shutdown(srv)
}

func (s *Server) shutdown(srv *http.Server) error {
	s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown timed out, forcing close", "error", err)
		return srv.Close()
	}

	s.logger.Info("graceful shutdown completed")
	return nil
}
