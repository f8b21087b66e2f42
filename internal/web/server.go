// Package web serves the override store and reconciliation runs over HTTP.
package web

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nged-substations/internal/app"
	"github.com/nged-substations/internal/web/handlers"
	"github.com/nged-substations/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	app        *app.App
	logger     zerolog.Logger
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
}

// NewServer creates a new web server around an assembled App
func NewServer(a *app.App) *Server {
	server := &Server{
		app:    a,
		logger: a.Logger.With().Str("component", "web").Logger(),
	}

	server.setupRoutes()

	cfg := a.Config.Server
	server.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return server
}

// Handler returns the root handler, CORS included
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	cfg := s.app.Config

	handlerConfig := &handlers.Config{Features: cfg.Features}

	reconcileHandler := &handlers.ReconcileHandler{
		Reconciler: s.app.Reconciler,
		Config:     handlerConfig,
	}
	if cfg.Sources.Live.Path != "" && cfg.Sources.Reference.Path != "" {
		reconcileHandler.Inputs = s.app.LoadInput
	}
	apiHandler := &handlers.APIHandler{Store: s.app.Store, Reconcile: reconcileHandler, Started: time.Now()}
	overridesHandler := &handlers.OverridesHandler{Store: s.app.Store, Normalizer: s.app.Normalizer, Config: handlerConfig}
	normalizeHandler := &handlers.NormalizeHandler{Normalizer: s.app.Normalizer}

	s.router.HandleFunc("/health", apiHandler.Health).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Override store
	api.HandleFunc("/overrides", overridesHandler.ListSources).Methods("GET")
	api.HandleFunc("/overrides/{source}", overridesHandler.ListOverrides).Methods("GET")
	api.HandleFunc("/overrides/{source}/{name}", overridesHandler.GetOverride).Methods("GET")
	api.HandleFunc("/overrides/{source}/{name}/history", overridesHandler.GetHistory).Methods("GET")
	if cfg.Features.ManualOverrideEnabled {
		api.HandleFunc("/overrides/{source}/{name}", overridesHandler.PutOverride).Methods("PUT")
		api.HandleFunc("/overrides/{source}/{name}", overridesHandler.DeleteOverride).Methods("DELETE")
	}

	// Reconciliation
	api.HandleFunc("/reconcile", reconcileHandler.Run).Methods("POST")
	api.HandleFunc("/reconcile/unresolved", reconcileHandler.Unresolved).Methods("GET", "POST")
	if cfg.Features.ExportEnabled {
		api.HandleFunc("/reconcile/matches", reconcileHandler.ExportMatches).Methods("GET", "POST")
	}

	api.HandleFunc("/normalize", normalizeHandler.Explain).Methods("GET")
	api.HandleFunc("/stats", apiHandler.GetStats).Methods("GET")

	s.router.Use(middleware.RequestLogging(s.logger))

	if cfg.Auth.Enabled {
		// Apply authentication middleware to API routes only
		api.Use(middleware.Authentication(cfg.Auth.APIKey))
	}

	// CORS wraps the router so preflight requests reach it before route matching
	s.handler = middleware.CORS(cfg.Server.AllowedOrigins)(s.router)
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	s.logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), s.app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("server shutdown error")
	}
	if err := s.app.Close(); err != nil {
		s.logger.Error().Err(err).Msg("store close error")
	}

	s.logger.Info().Msg("server stopped")
	return nil
}
