package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sphota-ai/sphota/internal/corpus"
	"github.com/sphota-ai/sphota/internal/fastmemory"
	"github.com/sphota-ai/sphota/internal/feedback"
	"github.com/sphota-ai/sphota/internal/resolver"
	"github.com/sphota-ai/sphota/internal/reviewqueue"
)

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Resolver *resolver.Resolver
	Feedback *feedback.Manager
	Reviews  *reviewqueue.Store
	Corpus   *corpus.Corpus
	Memory   *fastmemory.Store
	Logger   *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Resolver:            cfg.Resolver,
		Feedback:            cfg.Feedback,
		Reviews:             cfg.Reviews,
		Corpus:              cfg.Corpus,
		Memory:              cfg.Memory,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Resolution.
	mux.HandleFunc("POST /resolve-intent", h.HandleResolve)

	// Feedback loop.
	mux.HandleFunc("POST /feedback", h.HandleFeedback)
	mux.HandleFunc("GET /feedback/stats", h.HandleStats)
	mux.HandleFunc("GET /feedback/review-queue", h.HandleReviewQueue)
	mux.HandleFunc("POST /feedback/review-queue/{item_id}/reviewed", h.HandleMarkReviewed)

	// Health (no readiness gate).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers for readiness control.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
