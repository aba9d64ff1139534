package drag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dragcal/project/internal/app/eventstore"
	"github.com/dragcal/project/internal/app/schedule"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/logging"
)

type fakeEventStore struct {
	mu        sync.Mutex
	events    map[string]calendar.Event
	patches   []calendar.Patch
	updateErr error
	// gate, when set, holds UpdateFields until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeEventStore) Query(_ context.Context, filter calendar.Filter) ([]calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []calendar.Event
	for _, e := range f.events {
		if filter.Scope.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventStore) Insert(_ context.Context, draft calendar.Draft) (calendar.Event, error) {
	return draft.Event("new"), nil
}

func (f *fakeEventStore) UpdateFields(ctx context.Context, _ calendar.Scope, id string, patch calendar.Patch) (calendar.Event, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	if err := ctx.Err(); err != nil {
		return calendar.Event{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	if f.updateErr != nil {
		return calendar.Event{}, f.updateErr
	}
	e := patch.Apply(f.events[id])
	f.events[id] = e
	return e, nil
}

func (f *fakeEventStore) SubscribeToChanges(string, eventstore.ChangeFunc) (func(), error) {
	return func() {}, nil
}

var week = calendar.NewWeekWindow(calendar.MustParseDate("2024-03-04"), time.Monday)

func setup(t *testing.T) (*Rescheduler, *schedule.Store, *fakeEventStore) {
	t.Helper()
	es := &fakeEventStore{events: map[string]calendar.Event{
		"standup": {ID: "standup", Title: "Standup", StartDate: "2024-03-04", StartTime: "09:00", DurationHours: 1, OwnerID: "u1"},
	}}
	store := schedule.NewStore(es, calendar.OwnerScope("u1"), logging.Discard())
	if err := store.Open(context.Background()); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(store.Close)
	return New(store, logging.Discard()), store, es
}

func TestDrop_MovesEventKeepingTime(t *testing.T) {
	r, store, es := setup(t)
	if _, err := r.Begin("standup"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	res, err := r.Drop(context.Background(), week, calendar.MustParseDate("2024-03-06"))
	if err != nil {
		t.Fatalf("Drop error: %v", err)
	}
	if res.Outcome != OutcomeMoved || res.Event.StartDate != "2024-03-06" || res.Event.StartTime != "09:00" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(es.patches) != 1 || *es.patches[0].StartDate != "2024-03-06" {
		t.Fatalf("expected one update with the new date, got %+v", es.patches)
	}
	if got, _ := store.Get("standup"); got.StartDate != "2024-03-06" {
		t.Fatalf("expected snapshot moved, got %+v", got)
	}
	if r.State() != Idle {
		t.Fatalf("expected idle after drop, got %s", r.State())
	}
}

func TestDrop_FailureRollsBack(t *testing.T) {
	r, store, es := setup(t)
	es.updateErr = errors.New("permission denied")

	var seen []string
	store.OnChange(func(s schedule.Snapshot) {
		for _, e := range s.Events {
			seen = append(seen, e.StartDate)
		}
	})

	if _, err := r.Begin("standup"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	res, err := r.Drop(context.Background(), week, calendar.MustParseDate("2024-03-06"))
	var serr *schedule.StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if !res.RolledBack || res.Outcome != OutcomeFailed {
		t.Fatalf("expected rollback, got %+v", res)
	}
	if got, _ := store.Get("standup"); got.StartDate != "2024-03-04" {
		t.Fatalf("expected event back on origin day, got %+v", got)
	}
	if len(seen) != 2 || seen[0] != "2024-03-06" || seen[1] != "2024-03-04" {
		t.Fatalf("expected optimistic move then revert, got %v", seen)
	}

	w := calendar.NewWeekWindow(calendar.MustParseDate("2024-03-04"), time.Monday)
	layout := calendar.Place(store.Snapshot().Events, w, calendar.DefaultGeometry())
	if placed, ok := layout.Find("standup"); !ok || placed.Date.String() != "2024-03-04" {
		t.Fatalf("expected placement on origin day, got %+v", placed)
	}
}

func TestDrop_SameDayIsNoop(t *testing.T) {
	r, _, es := setup(t)
	if _, err := r.Begin("standup"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	res, err := r.Drop(context.Background(), week, calendar.MustParseDate("2024-03-04"))
	if err != nil || res.Outcome != OutcomeUnchanged {
		t.Fatalf("expected unchanged, got %+v %v", res, err)
	}
	if len(es.patches) != 0 {
		t.Fatal("expected no store call")
	}
}

func TestDropAt_OutsideColumnsCancels(t *testing.T) {
	r, _, es := setup(t)
	g := calendar.DefaultGeometry()
	w := calendar.NewWeekWindow(calendar.MustParseDate("2024-03-04"), time.Monday)

	if _, err := r.Begin("standup"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	res, err := r.DropAt(context.Background(), w, g, g.GutterWidth/2)
	if !errors.Is(err, ErrInvalidTarget) || res.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled gesture, got %+v %v", res, err)
	}
	if len(es.patches) != 0 || r.State() != Idle {
		t.Fatal("expected no write and idle state")
	}

	if _, err := r.Begin("standup"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	res, err = r.DropAt(context.Background(), w, g, g.ColumnLeft(2)+1)
	if err != nil || res.To != "2024-03-06" {
		t.Fatalf("expected drop on Wednesday, got %+v %v", res, err)
	}
}

func TestDrop_OutsideWindowCancels(t *testing.T) {
	r, store, es := setup(t)
	for _, target := range []calendar.Date{{}, calendar.MustParseDate("2024-03-03"), calendar.MustParseDate("2024-03-11"), calendar.MustParseDate("2031-12-25")} {
		if _, err := r.Begin("standup"); err != nil {
			t.Fatalf("Begin error: %v", err)
		}
		res, err := r.Drop(context.Background(), week, target)
		if !errors.Is(err, ErrInvalidTarget) || res.Outcome != OutcomeCancelled {
			t.Fatalf("drop on %q: expected cancelled gesture, got %+v %v", target, res, err)
		}
		if r.State() != Idle {
			t.Fatalf("drop on %q: expected idle, got %s", target, r.State())
		}
	}
	if len(es.patches) != 0 {
		t.Fatalf("expected no writes, got %+v", es.patches)
	}
	if got, _ := store.Get("standup"); got.StartDate != "2024-03-04" {
		t.Fatalf("expected event on origin day, got %+v", got)
	}
}

func TestBegin_IgnoredWhileActive(t *testing.T) {
	r, _, es := setup(t)
	es.gate = make(chan struct{})
	es.entered = make(chan struct{})

	if _, err := r.Begin("standup"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if _, err := r.Begin("standup"); !errors.Is(err, ErrGestureActive) {
		t.Fatalf("expected ErrGestureActive while dragging, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Drop(ctx, week, calendar.MustParseDate("2024-03-05"))
		done <- err
	}()
	<-es.entered

	if r.State() != Dropped {
		t.Fatalf("expected dropped while writing, got %s", r.State())
	}
	if _, err := r.Begin("standup"); !errors.Is(err, ErrGestureActive) {
		t.Fatalf("expected ErrGestureActive while dropping, got %v", err)
	}

	cancel()
	close(es.gate)
	if err := <-done; err != nil {
		t.Fatalf("expected write to survive caller cancellation, got %v", err)
	}
}

func TestBegin_UnknownEvent(t *testing.T) {
	r, _, _ := setup(t)
	if _, err := r.Begin("missing"); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if _, err := r.Cancel(); !errors.Is(err, ErrNotDragging) {
		t.Fatalf("expected ErrNotDragging, got %v", err)
	}
}
