// Package main is the entry point for the referral campaign server.
//
// main stays minimal: read configuration, build the logger, connect the
// store, start the server. All real logic lives in internal/ packages.
package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sakif/referral-board/internal/config"
	"github.com/sakif/referral-board/internal/gate"
	sqliteRepo "github.com/sakif/referral-board/internal/repository/sqlite"
	"github.com/sakif/referral-board/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	// Ensure the data directory exists before the store opens its file.
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// CONNECT WITH A RETRY BUDGET:
	// Exponential backoff with jitter, capped attempts. If the store never
	// comes up we exit nonzero and let the supervisor decide — a process
	// spinning forever in a fixed-sleep connect loop helps nobody.
	var db *sqliteRepo.DB
	connect := func() error {
		var err error
		db, err = sqliteRepo.New(cfg.DBPath)
		if err != nil {
			logger.Warn("store not ready, retrying", slog.String("error", err.Error()))
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second

	if err := backoff.Retry(connect, backoff.WithMaxRetries(policy, cfg.DBConnectMaxRetries)); err != nil {
		logger.Error("store unreachable, retry budget exhausted", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// No platform membership checker is implemented yet.
	// TODO: add the chat-platform getChatMember client once the gateway
	// exposes its API base URL.
	var checker gate.Checker
	switch cfg.GateMode {
	case "closed":
		// Answer conservatively until a real checker exists: links are
		// withheld with "try again".
		checker = gate.Static{Answer: gate.MembershipUnknown}
	default:
		logger.Warn("subscription gate is off, invite links are not membership-gated")
		checker = gate.Static{Answer: gate.MembershipMember}
	}

	srv, err := server.New(cfg, logger, db, checker)
	if err != nil {
		db.Close()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until shutdown and closes the store on the way out.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func logLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
