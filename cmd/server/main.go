package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fileshare/internal/server/api"
	"fileshare/internal/server/config"
	"fileshare/internal/server/database"
	"fileshare/internal/server/service"
	"fileshare/internal/server/storage"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"max_file_size", cfg.MaxFileSize,
		"upload_size_per_user", cfg.UploadSizePerUser,
		"store_timeout", cfg.StoreTimeout,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize storage
	store := newStore(cfg)
	if err := store.EnsureRoot(ctx); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "backend", cfg.StorageBackend)

	// Initialize repository and services
	repo := database.NewRepository(db)
	auth := service.NewAuthService(repo, store, cfg)
	ledger := service.NewLedger(repo, cfg.UploadSizePerUser)
	uploads := service.NewUploadService(repo, store, auth, ledger, cfg)
	registry := service.NewRegistry(repo, cfg.StoreTimeout)
	sharing, err := service.NewSharingService(repo, store, cfg)
	if err != nil {
		slog.Error("failed to initialize sharing", "error", err)
		os.Exit(1)
	}

	// Start orphan sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := storage.NewSweeper(repo, store, cfg.SweepInterval, cfg.SweepGrace)
	sweeper.Start(sweepCtx)

	// Setup HTTP router
	handler := api.NewHandler(auth, uploads, registry, sharing, ledger, db, cfg)
	e, limiter := api.SetupRouter(handler, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	limiter.Stop()

	// Stop sweeper
	sweepCancel()
	sweeper.Wait()

	slog.Info("server exited cleanly")
}

func newStore(cfg *config.Config) storage.Store {
	if cfg.StorageBackend == config.BackendS3 {
		return storage.NewS3Store(storage.S3Options(cfg.S3))
	}
	return storage.NewFileSystemStore(cfg.UploadRoot)
}
