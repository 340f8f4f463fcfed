package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"libcirc/internal/catalog"
	"libcirc/internal/circulation"
	"libcirc/internal/config"
	"libcirc/internal/httpapi"
	"libcirc/internal/membership"
	"libcirc/internal/storage"
	"libcirc/internal/telemetry"
)

// store is what every registry needs from the persistence layer.
type store interface {
	catalog.Store
	membership.Store
	circulation.Store
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file, using the process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	if err := run(cfg, logger); err != nil {
		logger.Error("librarian stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	st, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	books, err := catalog.NewService(ctx, st, logger.With("component", "catalog"))
	if err != nil {
		return fmt.Errorf("failed to load books: %w", err)
	}
	users, err := membership.NewService(ctx, st, logger.With("component", "membership"),
		membership.WithFailureLimit(cfg.Auth.FailuresPerMinute, cfg.Auth.FailureBurst),
		membership.WithDefaultAdmin(cfg.Auth.AdminUsername, cfg.Auth.AdminPassword),
	)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	loans, err := circulation.NewService(ctx, st, books, users, logger.With("component", "circulation"))
	if err != nil {
		return fmt.Errorf("failed to load loans: %w", err)
	}
	books.UseLoanGuard(loans)
	users.UseLoanGuard(loans)

	if _, err := users.EnsureDefaultAdmin(ctx); err != nil {
		return fmt.Errorf("failed to create default admin: %w", err)
	}

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: httpapi.NewRouter(httpapi.Services{
			Catalog:     books,
			Membership:  users,
			Circulation: loans,
		}, logger.With("component", "http")),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("librarian listening", "addr", server.Addr, "storage", cfg.Storage.Driver)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	case "memory":
		return storage.NewMemory(), func() {}, nil
	default:
		fs, err := storage.NewFileStore(cfg.DataDir, logger.With("component", "storage"))
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
