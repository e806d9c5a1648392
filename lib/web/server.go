// Package web exposes the admin HTTP API for the pool manager: per-target
// configuration, stats, session listings, control operations, and the
// Prometheus metrics endpoint. All endpoints speak JSON.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/go-mcpgw/mcpool/lib/errors"
	"github.com/go-mcpgw/mcpool/lib/metrics"
	"github.com/go-mcpgw/mcpool/lib/registry"
)

// Server is the admin API HTTP server.
type Server struct {
	httpServer *http.Server
	reg        *registry.Registry
	limiter    *RateLimiter
	mu         sync.RWMutex
	running    bool
}

// Config holds admin server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:8080")
	ListenAddr string
	// RateLimit configures per-IP rate limiting; zero values use defaults.
	RateLimit RateLimitConfig
}

// New creates the admin server over a registry.
// Call Stop() to release resources when the server is no longer needed.
func New(cfg Config, reg *registry.Registry) *Server {
	s := &Server{
		reg:     reg,
		limiter: NewRateLimiter(cfg.RateLimit),
	}

	mux := http.NewServeMux()

	// Pool collection
	mux.HandleFunc("GET /api/pools", s.handleListPools)
	mux.HandleFunc("GET /api/pools/health", s.handleGlobalHealth)

	// Per-pool configuration and stats
	mux.HandleFunc("GET /api/pools/{target}/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/pools/{target}/config", s.handleSetConfig)
	mux.HandleFunc("GET /api/pools/{target}/stats", s.handleGetStats)
	mux.HandleFunc("GET /api/pools/{target}/sessions", s.handleListSessions)

	// Control operations
	mux.HandleFunc("POST /api/pools/{target}/drain", s.handleDrain)
	mux.HandleFunc("POST /api/pools/{target}/resize", s.handleResize)
	mux.HandleFunc("POST /api/pools/{target}/reset", s.handleReset)
	mux.HandleFunc("POST /api/pools/{target}/optimize", s.handleOptimize)
	mux.HandleFunc("DELETE /api/pools/{target}", s.handleRemove)

	// Health and liveness
	mux.HandleFunc("GET /health", s.handleGlobalHealth)
	mux.HandleFunc("GET /healthz", s.handleLiveness)
	mux.HandleFunc("GET /readyz", s.handleLiveness)

	// Metrics endpoint (Prometheus format)
	mux.Handle("GET /metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.withMiddleware(s.limiter.Middleware(mux)),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the server's root handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the admin server.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("listen: %w", err)
	}

	log.WithField("addr", s.httpServer.Addr).Debug("admin server started")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin server error")
		}
	}()

	return nil
}

// Stop stops the admin server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.limiter.Close()

	log.Debug("admin server stopped")
	return nil
}

// withMiddleware wraps the handler with request logging and common headers.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		w.Header().Set("X-Content-Type-Options", "nosniff")

		next.ServeHTTP(w, r)

		log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("duration", time.Since(start)).
			Debug("request handled")
	})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("json encode error")
	}
}

// writeError maps an error to an HTTP status and writes a JSON error body
// with the structured error code when one is attached.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsNotFound(err):
		status = http.StatusNotFound
	case apperrors.IsConfigValidation(err), errors.Is(err, apperrors.ErrInvalidInput):
		status = http.StatusBadRequest
	case apperrors.IsPoolDraining(err), errors.Is(err, apperrors.ErrPoolClosed):
		status = http.StatusConflict
	case apperrors.IsAcquireTimeout(err):
		status = http.StatusGatewayTimeout
	case apperrors.IsRateLimited(err):
		status = http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrUnavailable), errors.Is(err, apperrors.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	}

	body := map[string]any{"error": err.Error()}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		body["error"] = appErr.SafeMessage()
		body["code"] = appErr.Code
	}
	s.writeJSON(w, status, body)
}
