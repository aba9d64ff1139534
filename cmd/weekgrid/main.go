package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dragcal/project/internal/app/eventstore"
	"github.com/dragcal/project/internal/app/identity"
	"github.com/dragcal/project/internal/app/schedule"
	"github.com/dragcal/project/internal/app/workspace"
	"github.com/dragcal/project/internal/config"
	"github.com/dragcal/project/internal/logging"
	"github.com/dragcal/project/internal/tui"
)

type flagConfig struct {
	db          string
	logFile     string
	columnWidth int
	timezone    string
}

func main() {
	if err := run(parseFlags()); err != nil {
		fmt.Fprintln(os.Stderr, "weekgrid:", err)
		os.Exit(1)
	}
}

func parseFlags() flagConfig {
	var f flagConfig
	flag.StringVar(&f.db, "db", "", "SQLite database file (default: SQLITE_PATH)")
	flag.StringVar(&f.logFile, "log", "weekgrid.log", "log file")
	flag.IntVar(&f.columnWidth, "column-width", 18, "width of one day column in cells")
	flag.StringVar(&f.timezone, "tz", "", "IANA zone used for today (default: local)")
	flag.Parse()
	return f
}

func run(f flagConfig) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if f.db == "" {
		f.db = cfg.SQLitePath
	}
	loc := time.Local
	if f.timezone != "" {
		if loc, err = time.LoadLocation(f.timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}

	// The terminal belongs to the grid, so logs go to a file.
	logOut, err := os.OpenFile(f.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logOut.Close()
	logger := logging.NewWithWriter(logOut, cfg.LogLevel, true).With("service", "weekgrid")
	slog.SetDefault(logger)

	ctx := context.Background()
	store, err := eventstore.OpenSQLite(ctx, f.db, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	users := identity.NewSQLiteRepository(store.DB())
	if err := users.EnsureSchema(ctx); err != nil {
		return err
	}
	svc := identity.NewService(users, identity.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL))
	svc.RefreshTTL = cfg.RefreshTokenTTL
	sessions := identity.NewSessionHolder(svc)

	var resync *schedule.Resyncer
	if cfg.ResyncEnabled() {
		if resync, err = schedule.NewResyncer(cfg.ResyncSpec, logger); err != nil {
			return err
		}
		resync.Start()
		defer resync.Stop()
	}
	registry := workspace.NewRegistry(store, resync, logger)
	defer registry.Close()

	app := tui.NewApp(sessions, registry, tui.Options{
		Geometry:  tui.TerminalGeometry(cfg.Grid.Geometry.Hours, f.columnWidth),
		WeekStart: cfg.Grid.WeekStart,
		Location:  loc,
		Logger:    logger,
	})
	defer app.Close()

	logger.Info("weekgrid started", "db", f.db)
	if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	logger.Info("weekgrid stopped")
	return nil
}
