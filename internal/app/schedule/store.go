// Package schedule owns the in-memory event snapshot of one visibility scope
// and keeps it in step with the backing store.
package schedule

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dragcal/project/internal/app/eventstore"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/contracts"
	"github.com/dragcal/project/internal/logging"
	"github.com/dragcal/project/internal/platform/metrics"
)

// EventStore is the persistence and change-notification capability the
// schedule depends on.
type EventStore interface {
	Query(ctx context.Context, filter calendar.Filter) ([]calendar.Event, error)
	Insert(ctx context.Context, draft calendar.Draft) (calendar.Event, error)
	UpdateFields(ctx context.Context, scope calendar.Scope, id string, patch calendar.Patch) (calendar.Event, error)
	SubscribeToChanges(table string, cb eventstore.ChangeFunc) (unsubscribe func(), err error)
}

// Reload triggers, also used as metric labels.
const (
	TriggerInitial = "initial"
	TriggerChange  = "change"
	TriggerResync  = "resync"
)

const reloadTimeout = 10 * time.Second

// Snapshot is an immutable copy of the events visible in a scope.
type Snapshot struct {
	Scope    calendar.Scope
	Events   []calendar.Event
	Version  uint64
	LoadedAt time.Time
}

// Mutation records an optimistic change so it can be rolled back.
type Mutation struct {
	EventID string
	Before  calendar.Event
	After   calendar.Event
}

// Store holds the event snapshot of one scope. The snapshot is only changed
// through Store: loads and reloads replace it, writes patch it with the
// store's authoritative result, and optimistic mutations go through
// ApplyOptimistic/Rollback.
//
// Every change notification starts a full reload. Reloads are never
// cancelled by newer ones; whichever completes last is kept, even if it
// started earlier.
type Store struct {
	scope  calendar.Scope
	es     EventStore
	logger *slog.Logger
	Now    func() time.Time

	// writeMu admits one outstanding write at a time.
	writeMu sync.Mutex

	mu          sync.RWMutex
	events      []calendar.Event
	version     uint64
	loadedAt    time.Time
	reloadSeq   uint64
	appliedSeq  uint64
	listeners   map[int]func(Snapshot)
	nextID      int
	unsubscribe func()
	closed      bool

	reloads sync.WaitGroup
}

func NewStore(es EventStore, scope calendar.Scope, logger *slog.Logger) *Store {
	return &Store{
		scope:     scope,
		es:        es,
		logger:    logger,
		Now:       time.Now,
		listeners: map[int]func(Snapshot){},
	}
}

func (s *Store) Scope() calendar.Scope {
	return s.scope
}

// Open loads the scope and subscribes to the change feed.
func (s *Store) Open(ctx context.Context) error {
	if _, err := s.Load(ctx); err != nil {
		return err
	}
	unsubscribe, err := s.es.SubscribeToChanges(eventstore.EventsTable, s.onChange)
	if err != nil {
		return &StoreError{Op: "subscribe", Err: err}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return ErrClosed
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	return nil
}

// Load replaces the snapshot with the store's current view of the scope.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	return s.reload(ctx, TriggerInitial)
}

// Reload is Load with a trigger label for logs and metrics.
func (s *Store) Reload(ctx context.Context, trigger string) error {
	_, err := s.reload(ctx, trigger)
	return err
}

func (s *Store) reload(ctx context.Context, trigger string) (Snapshot, error) {
	logger := logging.Component(ctx, s.logger, "schedule", "reload", "scope", s.scope.Key(), "trigger", trigger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	s.reloadSeq++
	seq := s.reloadSeq
	s.mu.Unlock()

	events, err := s.es.Query(ctx, calendar.Filter{Scope: s.scope})
	metrics.SnapshotReloads.WithLabelValues(trigger, metrics.Outcome(err)).Inc()
	if err != nil {
		logger.Error("reload failed", "error", err)
		return Snapshot{}, &StoreError{Op: "load", Err: err}
	}
	sortEvents(events)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if seq < s.appliedSeq {
		logger.Debug("older reload completed last and replaces a newer snapshot", "seq", seq, "newer_seq", s.appliedSeq)
	}
	s.appliedSeq = seq
	s.events = events
	s.loadedAt = s.Now()
	snap := s.changedLocked()
	s.mu.Unlock()

	logger.Debug("snapshot replaced", "events", len(events), "version", snap.Version)
	s.emit(snap)
	return snap, nil
}

// onChange starts a reload for n. The reload is counted under mu so Close
// either sees it in Wait or prevents it from starting.
func (s *Store) onChange(n contracts.ChangeNotification) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.reloads.Add(1)
	s.mu.RUnlock()
	go func() {
		defer s.reloads.Done()
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		defer cancel()
		if err := s.Reload(ctx, TriggerChange); err != nil && !errors.Is(err, ErrClosed) {
			logging.Component(ctx, s.logger, "schedule", "change").
				Warn("reload after change failed", "record_id", n.RecordID, "error", err)
		}
	}()
}

// Create inserts a draft into the scope and adds the stored event to the
// snapshot once the store acknowledges it.
func (s *Store) Create(ctx context.Context, draft calendar.Draft) (calendar.Event, error) {
	draft = s.scope.Assign(draft)
	if err := draft.Validate(); err != nil {
		return calendar.Event{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	created, err := s.es.Insert(ctx, draft)
	metrics.StoreWrites.WithLabelValues("create", metrics.Outcome(err)).Inc()
	if err != nil {
		logging.Component(ctx, s.logger, "schedule", "create", "scope", s.scope.Key()).Error("create failed", "error", err)
		return calendar.Event{}, &StoreError{Op: "create", Err: err}
	}
	s.apply(created)
	return created, nil
}

// Update writes patch to event id, which must be in the scope's snapshot. A
// patch touching date, time or duration is widened to the full triple so the
// store never sees a partial position.
func (s *Store) Update(ctx context.Context, id string, patch calendar.Patch) (calendar.Event, error) {
	if err := patch.Validate(); err != nil {
		return calendar.Event{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, ok := s.Get(id)
	if !ok {
		return calendar.Event{}, ErrUnknownEvent
	}
	if patch.TouchesSchedule() {
		patch = patch.WithSchedule(current)
	}

	updated, err := s.es.UpdateFields(ctx, s.scope, id, patch)
	metrics.StoreWrites.WithLabelValues("update", metrics.Outcome(err)).Inc()
	if err != nil {
		logging.Component(ctx, s.logger, "schedule", "update", "scope", s.scope.Key(), "event_id", id).Error("update failed", "error", err)
		return calendar.Event{}, &StoreError{Op: "update", EventID: id, Err: err}
	}
	s.apply(updated)
	return updated, nil
}

// ApplyOptimistic writes patch into the snapshot ahead of the store.
func (s *Store) ApplyOptimistic(id string, patch calendar.Patch) (Mutation, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return Mutation{}, ErrUnknownEvent
	}
	before := s.events[idx]
	after := patch.Apply(before)
	s.events[idx] = after
	sortEvents(s.events)
	snap := s.changedLocked()
	s.mu.Unlock()

	s.emit(snap)
	return Mutation{EventID: id, Before: before, After: after}, nil
}

// Rollback restores m.Before if the snapshot still holds m.After. A reload
// or write that landed since then wins and Rollback reports false.
func (s *Store) Rollback(m Mutation) bool {
	s.mu.Lock()
	idx := s.indexLocked(m.EventID)
	if idx < 0 || s.events[idx] != m.After {
		s.mu.Unlock()
		return false
	}
	s.events[idx] = m.Before
	sortEvents(s.events)
	snap := s.changedLocked()
	s.mu.Unlock()

	s.emit(snap)
	return true
}

// Snapshot returns a copy of the current events.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) Get(id string) (calendar.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.events[idx], true
	}
	return calendar.Event{}, false
}

// OnChange registers fn to receive every new snapshot. Listeners run on the
// goroutine that changed the snapshot and must not block; concurrent changes
// may arrive out of order, so compare Version.
func (s *Store) OnChange(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close detaches from the change feed and waits for in-flight reloads.
// Writes already issued are not interrupted.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.listeners = map[int]func(Snapshot){}
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.reloads.Wait()
}

// apply folds an acknowledged write into the snapshot.
func (s *Store) apply(e calendar.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	idx := s.indexLocked(e.ID)
	switch {
	case !s.scope.Matches(e) && idx >= 0:
		s.events = slices.Delete(s.events, idx, idx+1)
	case !s.scope.Matches(e):
		s.mu.Unlock()
		return
	case idx >= 0:
		s.events[idx] = e
	default:
		s.events = append(s.events, e)
	}
	sortEvents(s.events)
	snap := s.changedLocked()
	s.mu.Unlock()

	s.emit(snap)
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.events, func(e calendar.Event) bool { return e.ID == id })
}

// changedLocked bumps the version after the events changed. Callers hold mu
// for writing.
func (s *Store) changedLocked() Snapshot {
	s.version++
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Scope:    s.scope,
		Events:   slices.Clone(s.events),
		Version:  s.version,
		LoadedAt: s.loadedAt,
	}
}

func (s *Store) emit(snap Snapshot) {
	s.mu.RLock()
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func sortEvents(events []calendar.Event) {
	slices.SortFunc(events, func(a, b calendar.Event) int {
		return cmp.Or(
			cmp.Compare(a.StartDate, b.StartDate),
			cmp.Compare(a.StartTime, b.StartTime),
			cmp.Compare(a.ID, b.ID),
		)
	})
}
