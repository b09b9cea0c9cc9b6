// Package server wires handlers, middleware, and routes, and owns the HTTP
// server lifecycle.
//
// This is the composition root: everything is assembled here —
//
//	config → sqlite.DB → AttributionService / LeaderboardService →
//	EventHandler / BoardHandler → routes
//
// Each layer only receives what it needs: services get the repository
// interface, handlers get the services, and nothing below this package knows
// the others' concrete types.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/referral-board/internal/auth"
	"github.com/sakif/referral-board/internal/config"
	"github.com/sakif/referral-board/internal/gate"
	"github.com/sakif/referral-board/internal/handler"
	"github.com/sakif/referral-board/internal/middleware"
	sqliteRepo "github.com/sakif/referral-board/internal/repository/sqlite"
	"github.com/sakif/referral-board/internal/service"
)

// Server is the HTTP server and its dependencies. It owns the database
// connection and closes it on shutdown.
type Server struct {
	router  *chi.Mux
	cfg     config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	checker gate.Checker
}

// New assembles a Server over an already-open store.
//
// The store connection is created by the caller (which handles the
// connect-with-backoff dance) and handed over here; from this point the
// Server owns it. checker is the channel-subscription capability — pass
// gate.Static{} when no platform checker is configured.
func New(cfg config.Config, logger *slog.Logger, db *sqliteRepo.DB, checker gate.Checker) (*Server, error) {
	s := &Server{
		router:  chi.NewRouter(),
		cfg:     cfg,
		logger:  logger,
		db:      db,
		checker: checker,
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures middleware and the route table.
//
// ROUTES:
//
//	POST /api/events/start              → register / replay a start event
//	GET  /api/leaderboard               → top referrers
//	GET  /api/participants/{id}/link    → membership-gated invite link
//	GET  /api/participants/{id}/referrals
//	GET  /api/participants/{id}/credits
//	GET  /healthz                       → liveness (unauthenticated)
func (s *Server) setupRoutes() error {
	// Middleware order matters: request ID first so every later log line can
	// carry it, recoverer before handlers so a panic becomes a 500.
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	attribution := service.NewAttributionService(s.db, s.logger)
	leaderboard := service.NewLeaderboardService(s.db, s.cfg.LeaderboardLimit, s.logger)

	events := handler.NewEventHandler(attribution, s.cfg.BotUsername, s.logger)
	board := handler.NewBoardHandler(leaderboard, s.checker, s.cfg.BotUsername, s.cfg.Channel, s.logger)

	// Service-token auth protects the whole API when a secret is set.
	// The gateway is the only intended caller.
	var tokens *auth.TokenService
	if s.cfg.JWTSecret != "" {
		var err error
		tokens, err = auth.NewTokenService(s.cfg.JWTSecret)
		if err != nil {
			return fmt.Errorf("creating token service: %w", err)
		}
	} else {
		s.logger.Warn("JWT_SECRET not set, API authentication is disabled")
	}

	s.router.Route("/api", func(r chi.Router) {
		if tokens != nil {
			r.Use(auth.RequireToken(tokens))
		}

		r.Post("/events/start", events.HandleStart)
		r.Get("/leaderboard", board.HandleLeaderboard)
		r.Get("/participants/{id}/link", board.HandleLink)
		r.Get("/participants/{id}/referrals", board.HandleReferrals)
		r.Get("/participants/{id}/credits", board.HandleCredits)
	})

	return nil
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully:
// stop accepting connections, drain in-flight requests (30s), close the
// store (flushes the WAL, releases the file lock).
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("database", s.cfg.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
