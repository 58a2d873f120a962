// Package api exposes the HTTP control surface for template lifecycle
// operations.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/terraflow/internal/events"
	"github.com/mattjoyce/terraflow/internal/history"
	"github.com/mattjoyce/terraflow/internal/lifecycle"
	"github.com/mattjoyce/terraflow/internal/metrics"
	"github.com/mattjoyce/terraflow/internal/reconcile"
	"github.com/mattjoyce/terraflow/internal/registry"
)

// Lifecycle defines the coordinator operations the server dispatches to.
type Lifecycle interface {
	Status() []registry.Record
	Init(ctx context.Context, name string) (*lifecycle.OpResult, error)
	Apply(ctx context.Context, name string) (*lifecycle.OpResult, error)
	Destroy(ctx context.Context, name string) (*lifecycle.OpResult, error)
	CleanupAll(ctx context.Context) (reconcile.SweepReport, error)
}

// RunLister reads recent runs from the audit log.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// Config holds API server configuration.
type Config struct {
	Listen  string
	Service string
	Version string
	// APIKey is a single bearer token. Empty disables auth.
	APIKey         string
	MetricsEnabled bool
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	lifecycle Lifecycle
	runs      RunLister
	hub       *events.Hub
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server. runs, hub and metrics may be nil; the
// corresponding endpoints then report unavailable.
func New(config Config, lc Lifecycle, runs RunLister, hub *events.Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		lifecycle: lc,
		runs:      runs,
		hub:       hub,
		metrics:   m,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.config.Listen,
		Handler: s.Routes(),
		// Write timeout covers long terraform applies.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.config.MetricsEnabled && s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Route("/terraform", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/init", s.handleInit)
			r.Post("/apply", s.handleApply)
			r.Post("/destroy", s.handleDestroy)
			r.Post("/cleanup", s.handleCleanup)
			r.Get("/runs", s.handleRuns)
		})
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
