// Package server provides the HTTP API for the Kiroku document core.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kiroku/internal/config"
	"github.com/hyperjump/kiroku/internal/service"
	"github.com/hyperjump/kiroku/internal/storage"
	"github.com/hyperjump/kiroku/internal/syncer"
)

// Server is the HTTP server for the Kiroku API.
type Server struct {
	svc    *service.Service
	sync   *syncer.Syncer
	store  *storage.SQLiteStore
	layout storage.Layout
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	svc *service.Service,
	sync *syncer.Syncer,
	store *storage.SQLiteStore,
	layout storage.Layout,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		svc:    svc,
		sync:   sync,
		store:  store,
		layout: layout,
		config: cfg,
		logger: logger,
	}
}

// Router builds the chi router for the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/api/v1/documents", s.handleListDocuments)
	r.Post("/api/v1/documents", s.handleSaveDocument)
	r.Post("/api/v1/documents/text", s.handleSaveText)
	r.Get("/api/v1/documents/{id}", s.handleGetDocument)
	r.Patch("/api/v1/documents/{id}", s.handleRenameDocument)
	r.Delete("/api/v1/documents/{id}", s.handleDeleteDocument)
	r.Post("/api/v1/documents/{id}/restore", s.handleRestoreDocument)
	r.Post("/api/v1/documents/{id}/resolve", s.handleResolveConflict)
	r.Get("/api/v1/suggestions", s.handleSuggestions)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
