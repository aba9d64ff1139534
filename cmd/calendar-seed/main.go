package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dragcal/project/internal/app/eventstore"
	"github.com/dragcal/project/internal/app/icsbridge"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/config"
	"github.com/dragcal/project/internal/logging"
	"github.com/dragcal/project/internal/platform/dbpool"
	"github.com/dragcal/project/internal/platform/natsutil"
)

type flagConfig struct {
	file     string
	scope    string
	sqlite   string
	timezone string
	dryRun   bool
}

func main() {
	if err := run(parseFlags()); err != nil {
		slog.Error("calendar-seed failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() flagConfig {
	var f flagConfig
	flag.StringVar(&f.file, "file", "", "path of the .ics file to import")
	flag.StringVar(&f.scope, "scope", "", "target calendar, owner:<user id> or company:<company id>")
	flag.StringVar(&f.sqlite, "sqlite", "", "import into this SQLite database instead of Postgres")
	flag.StringVar(&f.timezone, "tz", "", "IANA zone of floating times (default: local)")
	flag.BoolVar(&f.dryRun, "dry-run", false, "parse and report without writing")
	flag.Parse()
	return f
}

func run(f flagConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel).With("service", "calendar-seed")

	if f.file == "" {
		return errors.New("-file is required")
	}
	scope, err := calendar.ParseScope(f.scope)
	if err != nil {
		return err
	}
	loc := time.Local
	if f.timezone != "" {
		if loc, err = time.LoadLocation(f.timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}

	in, err := os.Open(f.file)
	if err != nil {
		return err
	}
	defer in.Close()
	parsed, err := icsbridge.Parse(in, icsbridge.ImportOptions{Scope: scope, Location: loc})
	if err != nil {
		return err
	}
	for _, s := range parsed.Skipped {
		logger.Warn("entry skipped", "uid", s.UID, "reason", s.Reason)
	}
	logger.Info("calendar parsed", "file", f.file, "events", len(parsed.Events), "skipped", len(parsed.Skipped))
	if f.dryRun {
		return nil
	}

	dst, closeStore, err := openImporter(ctx, cfg, f.sqlite, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := icsbridge.Load(ctx, dst, parsed.Events, logger)
	if err != nil {
		return fmt.Errorf("imported %d of %d events: %w", n, len(parsed.Events), err)
	}
	return nil
}

// openImporter opens the SQLite file when path is set, and otherwise the
// shared Postgres store whose changes reach running API instances over NATS.
func openImporter(ctx context.Context, cfg config.Config, path string, logger *slog.Logger) (icsbridge.Importer, func(), error) {
	if path != "" {
		store, err := eventstore.OpenSQLite(ctx, path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	pool, err := dbpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := dbpool.WaitReady(ctx, pool, cfg.DBReadyTimeout); err != nil {
		pool.Close()
		return nil, nil, err
	}
	client, err := natsutil.ConnectJetStreamWithRetry(ctx, cfg.NATSURL, cfg.NATSConnectTimeout)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	store := eventstore.NewPostgresStore(pool, eventstore.NATSFeed{
		Publisher: natsutil.JetStreamPublisher{JS: client.JS},
		Logger:    logger,
	}, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		client.Close()
		pool.Close()
		return nil, nil, err
	}
	return store, func() {
		client.Close()
		pool.Close()
	}, nil
}
