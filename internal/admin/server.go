package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/timekeeper/internal/accounting"
	"github.com/goodtune/timekeeper/internal/admin/api"
	"github.com/goodtune/timekeeper/internal/status"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the admin server configuration.
type Config struct {
	ListenAddr string
}

// Server represents the admin HTTP server.
type Server struct {
	config   Config
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// Dependencies are the components the admin handlers read from. Snapshots
// and Monitors are optional.
type Dependencies struct {
	Engine     *accounting.Engine
	Accounts   storage.AccountStore
	Aggregator *status.Aggregator
	Snapshots  api.Snapshotter
	Monitors   api.IdleStatusProvider
}

// NewServer creates a new admin server.
func NewServer(cfg Config, deps Dependencies, logger zerolog.Logger) *Server {
	s := &Server{
		config: cfg,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "admin").Logger(),
	}

	s.setupRoutes(deps)

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(deps Dependencies) {
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	sessions := api.NewSessionsHandler(deps.Engine, deps.Aggregator, deps.Snapshots, s.logger)
	s.router.HandleFunc("/api/sessions/active", sessions.ListActiveSessions).Methods("GET")
	s.router.HandleFunc("/api/sessions", sessions.ListSessions).Methods("GET")
	s.router.HandleFunc("/api/sessions/{id}", sessions.GetSession).Methods("GET")
	s.router.HandleFunc("/api/sessions/{id}/close", sessions.CloseSession).Methods("POST")

	accounts := api.NewAccountsHandler(deps.Accounts, deps.Engine, deps.Aggregator, s.logger)
	s.router.HandleFunc("/api/accounts", accounts.ListAccounts).Methods("GET")
	s.router.HandleFunc("/api/accounts/{id}/enable", accounts.EnableAccount).Methods("POST")
	s.router.HandleFunc("/api/accounts/{id}/disable", accounts.DisableAccount).Methods("POST")
	s.router.HandleFunc("/api/accounts/{id}", accounts.DeleteAccount).Methods("DELETE")

	monitors := api.NewMonitorsHandler(deps.Monitors)
	s.router.HandleFunc("/api/monitors/{account}/{session}", monitors.GetIdleStatus).Methods("GET")
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the admin HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting admin server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated admin listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Admin server error")
		}
	}()

	return nil
}

// Stop gracefully stops the admin HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping admin server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}
