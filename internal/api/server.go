// Package api provides the HTTP surface for Harrier.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harrierhq/harrier/internal/devices"
	"github.com/harrierhq/harrier/internal/domain"
	"github.com/harrierhq/harrier/internal/engine"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, registry *devices.Registry, eng *engine.Engine, mode domain.EvaluationMode, version string) *Server {
	handler := NewHandler(repo, cache, bus, registry, eng, mode, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Data-entry plumbing
	router.Post("/customers", handler.CreateCustomer)
	router.Get("/customers/{id}", handler.GetCustomer)
	router.Get("/customers/{id}/devices", handler.ListDevices)
	router.Get("/customers/{id}/notifications", handler.ListNotifications)

	router.Post("/accounts", handler.CreateAccount)
	router.Get("/accounts/{id}", handler.GetAccount)

	router.Post("/merchants", handler.CreateMerchant)
	router.Get("/merchants/{id}", handler.GetMerchant)

	// Device registry
	router.Post("/devices/resolve", handler.ResolveDevice)

	// Transactions and evaluation
	router.Post("/transactions", handler.RecordTransaction)
	router.Get("/transactions", handler.ListTransactions)
	router.Get("/transactions/{id}", handler.GetTransaction)
	router.Post("/transactions/{id}/evaluate", handler.EvaluateTransaction)

	// Alert feed
	router.Get("/alerts", handler.ListAlerts)
	router.Patch("/alerts/{id}", handler.UpdateAlertStatus)

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
