package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/contracts"
	"github.com/dragcal/project/internal/logging"
	"github.com/google/uuid"
	"github.com/nats-io/nuid"
	_ "modernc.org/sqlite"
)

const createSQLiteEventsSQL = `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  start_date TEXT NOT NULL,
  start_time TEXT NOT NULL,
  duration_hours REAL,
  assigned_to TEXT,
  company_id TEXT,
  status TEXT,
  created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
  updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

const createSQLiteOwnerIndexSQL = `
CREATE INDEX IF NOT EXISTS events_assigned_to_idx ON events (assigned_to, start_date)`

// SQLiteStore is the single-user store: one local database file and an
// in-process change feed.
type SQLiteStore struct {
	db     *sql.DB
	feed   Feed
	logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{createSQLiteEventsSQL, createSQLiteOwnerIndexSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return &SQLiteStore{
		db:     db,
		feed:   NewLocalFeed(),
		logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}, nil
}

// DB exposes the handle so other local repositories can share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Query(ctx context.Context, filter calendar.Filter) ([]calendar.Event, error) {
	column, err := scopeColumn(filter.Scope)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE `+column+` = ? AND (? = '' OR start_date = ?)
		 ORDER BY start_date, start_time, id`,
		filter.Scope.ID, filter.StartDate, filter.StartDate,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []calendar.Event
	for rows.Next() {
		e, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Insert(ctx context.Context, draft calendar.Draft) (calendar.Event, error) {
	if err := draft.Validate(); err != nil {
		return calendar.Event{}, err
	}
	return s.insert(ctx, draft.Event(s.NewID()))
}

// Import stores an event as-is, keeping its id. Seed data goes through here,
// so a malformed record is stored and later surfaces as a placement warning.
func (s *SQLiteStore) Import(ctx context.Context, e calendar.Event) (calendar.Event, error) {
	if e.ID == "" {
		e.ID = s.NewID()
	}
	return s.insert(ctx, e)
}

func (s *SQLiteStore) insert(ctx context.Context, e calendar.Event) (calendar.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO events (id, title, start_date, start_time, duration_hours, assigned_to, company_id, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING `+eventColumns,
		e.ID, e.Title, e.StartDate, e.StartTime, e.DurationHours,
		nullIfEmpty(e.OwnerID), nullIfEmpty(e.CompanyID), nullIfEmpty(string(e.Status)),
	)
	created, err := scanSQLiteEvent(row)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("insert event: %w", err)
	}
	s.announce(ctx, contracts.ChangeInsert, created)
	return created, nil
}

func (s *SQLiteStore) UpdateFields(ctx context.Context, scope calendar.Scope, id string, patch calendar.Patch) (calendar.Event, error) {
	if err := patch.Validate(); err != nil {
		return calendar.Event{}, err
	}
	column, err := scopeColumn(scope)
	if err != nil {
		return calendar.Event{}, err
	}
	items := assignments(patch)
	if len(items) == 0 {
		e, err := s.get(ctx, id)
		return inScope(scope, e, err)
	}
	set, args := setClause(items, func(int) string { return "?" })
	args = append(args, id, scope.ID)
	row := s.db.QueryRowContext(ctx,
		`UPDATE events SET `+set+`, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ? AND `+column+` = ?
		 RETURNING `+eventColumns,
		args...,
	)
	updated, err := scanSQLiteEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calendar.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return calendar.Event{}, err
	}
	s.announce(ctx, contracts.ChangeUpdate, updated)
	return updated, nil
}

func (s *SQLiteStore) SubscribeToChanges(table string, cb ChangeFunc) (func(), error) {
	return s.feed.Subscribe(table, cb)
}

func (s *SQLiteStore) get(ctx context.Context, id string) (calendar.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanSQLiteEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return calendar.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

func (s *SQLiteStore) announce(ctx context.Context, kind string, e calendar.Event) {
	n := newNotification(nuid.Next(), kind, e, s.Now())
	if err := s.feed.Publish(ctx, n); err != nil {
		logging.Component(ctx, s.logger, "eventstore", "announce").
			Warn("change notification not delivered", "event_id", e.ID, "error", err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEvent(row scanner) (calendar.Event, error) {
	var (
		e        calendar.Event
		duration sql.NullFloat64
		status   string
	)
	if err := row.Scan(&e.ID, &e.Title, &e.StartDate, &e.StartTime, &duration, &e.OwnerID, &e.CompanyID, &status); err != nil {
		return calendar.Event{}, err
	}
	e.DurationHours = calendar.DefaultDurationHours
	if duration.Valid {
		e.DurationHours = duration.Float64
	}
	e.Status = calendar.Status(status)
	return e, nil
}
