package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cryptoscope/internal/config"
	"cryptoscope/internal/currency"
	"cryptoscope/internal/database"
	"cryptoscope/internal/ledger"

	"github.com/google/subcommands"
)

// app is what every command needs: configuration, logging and the store.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	repo   *database.PostgresRepository
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	logger := newLogger(cfg.Logging.Level)
	repo, err := database.NewPostgresRepository(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, repo: repo}, nil
}

func (a *app) Close() { a.repo.Close() }

func (a *app) router() *currency.Router {
	return currency.NewRouter(a.repo, a.cfg.Router.MaxHops, a.logger)
}

func (a *app) deriver() *ledger.Deriver {
	return ledger.NewDeriver(a.router(), a.cfg.Reporting.Currency, a.logger)
}

// run opens the app, runs fn and maps its error to an exit status.
func run(ctx context.Context, fn func(*app) error) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()
	if err := fn(a); err != nil {
		a.logger.Error("Command failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
