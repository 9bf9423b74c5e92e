package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/engine"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, detection domain.DetectionConfig, classifier engine.Classifier, version string) *Server {
	handler := NewHandler(repo, cache, bus, detection, classifier, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Statement ingestion
		r.Post("/transactions", handler.CreateTransactions)
		r.Get("/transactions/{id}", handler.GetTransaction)

		// Anomaly detection runs
		r.Post("/analyses", handler.CreateAnalysis)
		r.Get("/analyses/{id}", handler.GetAnalysis)
		r.Put("/analyses/{id}/anomalies/{anomalyId}/status", handler.UpdateAnomalyStatus)

		// Bank tariff grids
		r.Post("/conditions", handler.CreateConditions)
		r.Get("/conditions", handler.ListConditions)
		r.Get("/conditions/{id}", handler.GetConditions)
		r.Delete("/conditions/{id}", handler.DeleteConditions)

		// Custom classification rules
		r.Get("/rules", handler.ListClassificationRules)
		r.Post("/rules", handler.CreateClassificationRule)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
