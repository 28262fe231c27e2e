package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fathomlabs/agentcore/internal/config"
)

// runServe implements the serve command logic: configuration loading,
// component wiring, and graceful shutdown on SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool, addr string) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("starting agentcore",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"provider", cfg.Provider.Name,
		"max_turns", cfg.MaxTurns,
		"batching_max_batch_size", cfg.Batching.MaxBatchSize,
	)

	srv, err := buildServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to wire server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv.Start(ctx)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	slog.Info("agentcore server started", "addr", addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("batching shutdown failed: %w", err)
	}

	slog.Info("agentcore server stopped gracefully")
	return nil
}
