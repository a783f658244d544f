package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/jlowell/healthdeck/internal/adapter/driven/recoveryapi"
	sqliteadapter "github.com/jlowell/healthdeck/internal/adapter/driven/sqlite"
	"github.com/jlowell/healthdeck/internal/adapter/driven/workoutapi"
	httphandler "github.com/jlowell/healthdeck/internal/adapter/driving/http"
	"github.com/jlowell/healthdeck/internal/application"
	"github.com/jlowell/healthdeck/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on bad env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"sync_interval", cfg.SyncInterval,
		"sync_workers", cfg.SyncWorkers,
	)

	// 2. Signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on the writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters.
	credentialStore := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	activityStore := sqliteadapter.NewActivityRepo(db)
	metricStore := sqliteadapter.NewRecoveryMetricRepo(db)

	workoutClient := workoutapi.NewClient(
		cfg.Workout.ClientID, cfg.Workout.ClientSecret,
		cfg.Workout.BaseURL, cfg.Workout.TokenURL,
	)
	recoveryClient := recoveryapi.NewClient(
		cfg.Recovery.ClientID, cfg.Recovery.ClientSecret,
		cfg.Recovery.BaseURL, cfg.Recovery.TokenURL,
	)

	// 6. Application core.
	tokenSvc := application.NewTokenService(credentialStore, workoutClient, recoveryClient)
	syncSvc := application.NewSyncService(
		credentialStore, activityStore, metricStore,
		workoutClient, recoveryClient, tokenSvc,
	)
	dispatcher := application.NewDispatcher(syncSvc, credentialStore, cfg.SyncInterval, cfg.SyncWorkers)
	go dispatcher.Start(ctx)

	// 7. HTTP API and webhook ingress.
	apiHandler := httphandler.NewHandler(
		credentialStore, activityStore, metricStore, dispatcher, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("healthdeck started",
		"listen_addr", cfg.ListenAddr,
		"sync_interval", cfg.SyncInterval,
	)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
