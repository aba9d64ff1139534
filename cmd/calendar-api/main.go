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

	"github.com/dragcal/project/internal/app/calendarapi"
	"github.com/dragcal/project/internal/app/eventstore"
	"github.com/dragcal/project/internal/app/identity"
	"github.com/dragcal/project/internal/app/schedule"
	"github.com/dragcal/project/internal/app/workspace"
	"github.com/dragcal/project/internal/config"
	"github.com/dragcal/project/internal/logging"
	"github.com/dragcal/project/internal/platform/dbpool"
	"github.com/dragcal/project/internal/platform/metrics"
	"github.com/dragcal/project/internal/platform/natsutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	if err := run(); err != nil {
		slog.Error("calendar-api stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel).With("service", "calendar-api")
	slog.SetDefault(logger)
	if cfg.InsecureSecret() {
		logger.Warn("JWT_SECRET is the development default")
	}

	pool, err := dbpool.New(runCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := dbpool.WaitReady(runCtx, pool, cfg.DBReadyTimeout); err != nil {
		return err
	}

	client, err := natsutil.ConnectJetStreamWithRetry(runCtx, cfg.NATSURL, cfg.NATSConnectTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	identityRepo := identity.NewPostgresRepository(pool)
	if err := identityRepo.EnsureSchema(runCtx); err != nil {
		return fmt.Errorf("identity schema: %w", err)
	}
	identitySvc := identity.NewService(identityRepo, identity.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL))
	identitySvc.RefreshTTL = cfg.RefreshTokenTTL

	feed := eventstore.NATSFeed{
		Publisher:  natsutil.JetStreamPublisher{JS: client.JS},
		Subscriber: natsutil.JetStreamSubscriber{JS: client.JS},
		Logger:     logger,
	}
	events := eventstore.NewPostgresStore(pool, feed, logger)
	if err := events.EnsureSchema(runCtx); err != nil {
		return fmt.Errorf("event schema: %w", err)
	}

	var resync *schedule.Resyncer
	if cfg.ResyncEnabled() {
		resync, err = schedule.NewResyncer(cfg.ResyncSpec, logger)
		if err != nil {
			return err
		}
		resync.Start()
		defer resync.Stop()
	}
	registry := workspace.NewRegistry(events, resync, logger)
	defer registry.Close()
	metrics.Default.MustRegister(metrics.NewGaugeFunc(metrics.Opts{
		Name: "calendar_open_scopes",
		Help: "Scopes with a loaded shared schedule.",
	}, func() float64 { return float64(registry.Len()) }))

	handler := calendarapi.NewHandler(identitySvc, registry, cfg.Grid, cfg.UIOrigin, logger)
	handler.Ready = func(ctx context.Context) error {
		return checkReadiness(ctx, pool, client)
	}

	server := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Keep WriteTimeout unset for long-lived SSE streams.
		IdleTimeout: 120 * time.Second,
	}

	logger.Info("calendar api listening", "addr", cfg.APIAddr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-runCtx.Done():
	}

	// Streams never finish on their own; unmount them so Shutdown can drain.
	handler.Mounts.CloseAll(func(string) bool { return true })
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool, client *natsutil.Client) error {
	if err := client.Ready(); err != nil {
		return err
	}
	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
