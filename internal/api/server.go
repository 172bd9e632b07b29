// Package api provides the HTTP server and routing.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/riftstore/eventstore/internal/api/handlers"
	"github.com/riftstore/eventstore/internal/config"
	"github.com/riftstore/eventstore/internal/dispatcher"
	"github.com/riftstore/eventstore/internal/eventlog"
	"github.com/riftstore/eventstore/internal/metrics"
	"github.com/riftstore/eventstore/internal/registry"
)

// Server represents the HTTP server.
type Server struct {
	config    *config.Config
	registry  *registry.Registry
	store     *eventlog.Store
	consumers *dispatcher.ConsumerRegistry
	dispatch  *dispatcher.Manager
	router    chi.Router
	server    *http.Server
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// ServerOption is a function that configures the server.
type ServerOption func(*Server)

// WithMetrics overrides the default Metrics instance.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server wiring the Topic Registry, Event
// Store, Consumer Registry, and Dispatcher Manager to the HTTP surface
// (spec.md §6.1).
func NewServer(cfg *config.Config, reg *registry.Registry, store *eventlog.Store, consumers *dispatcher.ConsumerRegistry, dispatch *dispatcher.Manager, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:    cfg,
		registry:  reg,
		store:     store,
		consumers: consumers,
		dispatch:  dispatch,
		logger:    logger,
		metrics:   metrics.New(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRouter()
	return s
}

// Metrics returns the metrics instance for recording custom metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// setupRouter configures the HTTP router.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := handlers.New(s.registry, s.store, s.consumers, s.dispatch, s.logger)

	r.Get("/health", h.HealthCheck)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	// Default scope: unprefixed mount.
	s.mountEventStoreRoutes(r, h)

	// Explicit scope: /tenants/{tenant}/namespaces/{namespace}/...
	r.Route("/tenants/{tenant}/namespaces/{namespace}", func(r chi.Router) {
		r.Use(scopeExtractionMiddleware)
		s.mountEventStoreRoutes(r, h)
	})

	s.router = r
}

// mountEventStoreRoutes registers every topic/event/consumer route on r.
// Called twice: once at root (default scope) and once under the
// /tenants/{tenant}/namespaces/{namespace} prefix (spec.md §6.1).
func (s *Server) mountEventStoreRoutes(r chi.Router, h *handlers.Handler) {
	r.Get("/topics", h.ListTopics)
	r.Post("/topics", h.CreateTopic)
	r.Get("/topics/{topic}", h.GetTopic)
	r.Put("/topics/{topic}", h.UpdateSchemas)
	r.Get("/topics/{topic}/events", h.GetEvents)

	r.Post("/events", h.PublishEvents)

	r.Post("/consumers/register", h.RegisterConsumer)
	r.Get("/consumers", h.ListConsumers)
	r.Get("/consumers/{id}", h.GetConsumer)
	r.Delete("/consumers/{id}", h.DeleteConsumer)
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	s.logger.Info("starting server", slog.String("address", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the HTTP router for testing.
func (s *Server) Router() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Address returns the server address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s", s.config.Address())
}
