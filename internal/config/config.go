package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/dragcal/project/internal/platform/env"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config is the process configuration shared by the calendar commands.
type Config struct {
	APIAddr            string
	DatabaseURL        string
	NATSURL            string
	NATSConnectTimeout time.Duration
	DBReadyTimeout     time.Duration
	JWTSecret          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ShutdownTimeout    time.Duration
	LogLevel           string
	UIOrigin           string
	GridPath           string
	ResyncSpec         string
	SQLitePath         string
	Grid               Grid
}

const insecureSecret = "dev-insecure-change-me"

// Load reads an optional .env file, then the environment, then the grid file
// named by GRID_CONFIG. Invalid values are reported together.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		APIAddr:            env.String("CALENDAR_API_ADDR", env.DefaultAPIAddr),
		DatabaseURL:        env.String("DATABASE_URL", env.DefaultDatabaseURL),
		NATSURL:            env.String("NATS_URL", env.DefaultNATSURL),
		NATSConnectTimeout: env.Duration("NATS_CONNECT_TIMEOUT", 90*time.Second),
		DBReadyTimeout:     env.Duration("DB_READY_TIMEOUT", 30*time.Second),
		JWTSecret:          env.String("JWT_SECRET", insecureSecret),
		AccessTokenTTL:     env.Duration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:    env.Duration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		ShutdownTimeout:    env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:           env.String("LOG_LEVEL", "info"),
		UIOrigin:           env.String("UI_ORIGIN", "*"),
		GridPath:           env.String("GRID_CONFIG", ""),
		ResyncSpec:         env.String("RESYNC_CRON", env.DefaultResyncSpec),
		SQLitePath:         env.String("SQLITE_PATH", env.DefaultSQLitePath),
	}

	var invalid []string
	for _, key := range []string{"NATS_CONNECT_TIMEOUT", "DB_READY_TIMEOUT", "ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL", "SHUTDOWN_TIMEOUT"} {
		if raw, ok := env.Lookup(key); ok {
			if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
				invalid = append(invalid, key)
			}
		}
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		invalid = append(invalid, "LOG_LEVEL")
	}
	if cfg.ResyncSpec != "off" {
		if _, err := cron.ParseStandard(cfg.ResyncSpec); err != nil {
			invalid = append(invalid, "RESYNC_CRON")
		}
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}

	grid, err := LoadGrid(cfg.GridPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Grid = grid
	return cfg, nil
}

// InsecureSecret reports whether the JWT secret is the development default.
func (c Config) InsecureSecret() bool {
	return c.JWTSecret == insecureSecret
}

// ResyncEnabled reports whether periodic snapshot resync should run.
func (c Config) ResyncEnabled() bool {
	return c.ResyncSpec != "" && c.ResyncSpec != "off"
}
