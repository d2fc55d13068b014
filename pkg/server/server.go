package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/providers"
	"mercator-hq/ganymede/pkg/proxy/handlers"
	"mercator-hq/ganymede/pkg/proxy/middleware"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
)

// Config configures the HTTP listener.
type Config struct {
	Host string
	Port int

	ReadTimeout time.Duration

	// WriteTimeout must stay zero for streaming endpoints; a non-zero
	// value cuts off long SSE responses.
	WriteTimeout time.Duration

	ShutdownTimeout time.Duration
}

// Server is the gateway's HTTP server.
type Server struct {
	config    Config
	gateway   *gateway.Gateway
	providers providers.Set
	metrics   *metrics.Collector

	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	logger       *slog.Logger

	mu        sync.Mutex
	isRunning bool
}

// New creates a server.
func New(cfg Config, gw *gateway.Gateway, set providers.Set, collector *metrics.Collector) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &Server{
		config:       cfg,
		gateway:      gw,
		providers:    set,
		metrics:      collector,
		shutdownChan: make(chan struct{}),
		logger:       slog.Default().With("component", "server"),
	}
}

// Start starts the HTTP server and blocks until the context is cancelled, a
// shutdown signal arrives, or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting gateway server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	case <-s.shutdownChan:
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server, letting in-flight streams
// finish within the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown",
			"timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.logger.Info("server shutdown complete")
	})

	return shutdownErr
}

// Stop requests a shutdown from another goroutine.
func (s *Server) Stop() {
	select {
	case s.shutdownChan <- struct{}{}:
	default:
	}
}

// setupRoutes configures routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/v1/chat", handlers.NewChatHandler(s.gateway))
	mux.Handle("/v1/cancel", handlers.NewCancelHandler(s.gateway))
	mux.Handle("/health", handlers.NewHealthHandler())
	mux.Handle("/ready", handlers.NewReadyHandler(s.providers))
	mux.Handle("/metrics", s.metrics.Handler())

	var handler http.Handler = mux
	handler = middleware.RequestID(handler)
	handler = middleware.Logging(handler)
	handler = middleware.Recovery(handler)

	return handler
}
