package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/contracts"
	"github.com/dragcal/project/internal/logging"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nuid"
)

const createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS events (
  id text PRIMARY KEY,
  title text NOT NULL,
  start_date text NOT NULL,
  start_time text NOT NULL,
  duration_hours double precision,
  assigned_to text,
  company_id text,
  status text,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createEventsOwnerIndexSQL = `
CREATE INDEX IF NOT EXISTS events_assigned_to_idx ON events (assigned_to, start_date)`

const createEventsCompanyIndexSQL = `
CREATE INDEX IF NOT EXISTS events_company_id_idx ON events (company_id, start_date)`

const eventColumns = `id, title, start_date, start_time, duration_hours,
       coalesce(assigned_to, ''), coalesce(company_id, ''), coalesce(status, '')`

const insertEventSQL = `
INSERT INTO events (id, title, start_date, start_time, duration_hours, assigned_to, company_id, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + eventColumns

// PostgresStore is the shared, multi-writer store of the enterprise variant.
// Every committed write is announced on Feed.
type PostgresStore struct {
	Pool   *pgxpool.Pool
	Feed   Feed
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

func NewPostgresStore(pool *pgxpool.Pool, feed Feed, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		Pool:   pool,
		Feed:   feed,
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createEventsTableSQL, createEventsOwnerIndexSQL, createEventsCompanyIndexSQL} {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, filter calendar.Filter) ([]calendar.Event, error) {
	column, err := scopeColumn(filter.Scope)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE `+column+` = $1 AND ($2 = '' OR start_date = $2)
		 ORDER BY start_date, start_time, id`,
		filter.Scope.ID, filter.StartDate,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]calendar.Event, 0, 32)
	for rows.Next() {
		e, err := scanPostgresEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) Insert(ctx context.Context, draft calendar.Draft) (calendar.Event, error) {
	if err := draft.Validate(); err != nil {
		return calendar.Event{}, err
	}
	return s.insert(ctx, draft.Event(s.NewID()))
}

// Import stores an event as-is, keeping its id when it has one.
func (s *PostgresStore) Import(ctx context.Context, e calendar.Event) (calendar.Event, error) {
	if e.ID == "" {
		e.ID = s.NewID()
	}
	return s.insert(ctx, e)
}

func (s *PostgresStore) insert(ctx context.Context, e calendar.Event) (calendar.Event, error) {
	row := s.Pool.QueryRow(ctx, insertEventSQL,
		e.ID, e.Title, e.StartDate, e.StartTime, e.DurationHours,
		nullIfEmpty(e.OwnerID), nullIfEmpty(e.CompanyID), nullIfEmpty(string(e.Status)),
	)
	created, err := scanPostgresEvent(row)
	if err != nil {
		return calendar.Event{}, err
	}
	s.announce(ctx, contracts.ChangeInsert, created)
	return created, nil
}

// UpdateFields rewrites the patched columns of event id. Events outside
// scope are reported as ErrNotFound.
func (s *PostgresStore) UpdateFields(ctx context.Context, scope calendar.Scope, id string, patch calendar.Patch) (calendar.Event, error) {
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
	set, args := setClause(items, func(n int) string { return "$" + strconv.Itoa(n) })
	args = append(args, id, scope.ID)
	row := s.Pool.QueryRow(ctx,
		`UPDATE events SET `+set+`, updated_at = now()
		 WHERE id = $`+strconv.Itoa(len(args)-1)+` AND `+column+` = $`+strconv.Itoa(len(args))+`
		 RETURNING `+eventColumns,
		args...,
	)
	updated, err := scanPostgresEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return calendar.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return calendar.Event{}, err
	}
	s.announce(ctx, contracts.ChangeUpdate, updated)
	return updated, nil
}

func (s *PostgresStore) SubscribeToChanges(table string, cb ChangeFunc) (func(), error) {
	return s.Feed.Subscribe(table, cb)
}

func (s *PostgresStore) get(ctx context.Context, id string) (calendar.Event, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanPostgresEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return calendar.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// announce publishes after commit. A lost notification only delays other
// viewers until their next resync, so it does not fail the write.
func (s *PostgresStore) announce(ctx context.Context, kind string, e calendar.Event) {
	if s.Feed == nil {
		return
	}
	n := newNotification(nuid.Next(), kind, e, s.Now())
	if err := s.Feed.Publish(ctx, n); err != nil {
		logging.Component(ctx, s.Logger, "eventstore", "announce").
			Warn("change notification not published", "event_id", e.ID, "kind", kind, "error", err)
	}
}

func scanPostgresEvent(row pgx.Row) (calendar.Event, error) {
	var (
		e        calendar.Event
		duration *float64
		status   string
	)
	if err := row.Scan(&e.ID, &e.Title, &e.StartDate, &e.StartTime, &duration, &e.OwnerID, &e.CompanyID, &status); err != nil {
		return calendar.Event{}, err
	}
	e.DurationHours = calendar.DefaultDurationHours
	if duration != nil {
		e.DurationHours = *duration
	}
	e.Status = calendar.Status(status)
	return e, nil
}
