package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dragcal/project/internal/app/eventstore"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/logging"
	"github.com/dragcal/project/internal/platform/metrics"
)

type fakeEventStore struct {
	mu           sync.Mutex
	events       []calendar.Event
	queryErr     error
	subscribed   int
	unsubscribed int
}

func (f *fakeEventStore) Query(_ context.Context, filter calendar.Filter) ([]calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
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

func (f *fakeEventStore) UpdateFields(_ context.Context, _ calendar.Scope, id string, patch calendar.Patch) (calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.events {
		if e.ID == id {
			f.events[i] = patch.Apply(e)
			return f.events[i], nil
		}
	}
	return calendar.Event{}, eventstore.ErrNotFound
}

func (f *fakeEventStore) SubscribeToChanges(string, eventstore.ChangeFunc) (func(), error) {
	f.mu.Lock()
	f.subscribed++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.unsubscribed++
		f.mu.Unlock()
	}, nil
}

func seeded() *fakeEventStore {
	return &fakeEventStore{events: []calendar.Event{
		{ID: "a", Title: "Standup", StartDate: "2024-03-04", StartTime: "09:00", DurationHours: 1, OwnerID: "u1"},
		{ID: "b", Title: "Review", StartDate: "2024-03-04", StartTime: "09:30", DurationHours: 1, OwnerID: "u1"},
		{ID: "bad", Title: "Broken", StartDate: "2024-03-05", StartTime: "25:99", DurationHours: 1, OwnerID: "u1"},
		{ID: "c", Title: "Company", StartDate: "2024-03-05", StartTime: "10:00", DurationHours: 1, CompanyID: "c1"},
	}}
}

func testOptions() Options {
	return Options{
		Geometry:  calendar.DefaultGeometry(),
		WeekStart: time.Monday,
		Reference: calendar.MustParseDate("2024-03-06"),
	}
}

func TestRegistry_SharesStorePerScope(t *testing.T) {
	es := seeded()
	reg := NewRegistry(es, nil, logging.Discard())
	ctx := context.Background()

	s1, release1, err := reg.Acquire(ctx, calendar.OwnerScope("u1"))
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	s2, release2, err := reg.Acquire(ctx, calendar.OwnerScope("u1"))
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if s1 != s2 || es.subscribed != 1 {
		t.Fatalf("expected one shared store, subscribed %d times", es.subscribed)
	}
	s3, release3, err := reg.Acquire(ctx, calendar.CompanyScope("c1"))
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if s3 == s1 || reg.Len() != 2 {
		t.Fatalf("expected separate store per scope, registry has %d", reg.Len())
	}

	release1()
	release1()
	if es.unsubscribed != 0 {
		t.Fatal("expected store kept open while held")
	}
	release2()
	release3()
	if es.unsubscribed != 2 || reg.Len() != 0 {
		t.Fatalf("expected stores closed, unsubscribed=%d len=%d", es.unsubscribed, reg.Len())
	}
}

func TestRegistry_AcquireFailure(t *testing.T) {
	es := seeded()
	es.queryErr = errors.New("connection refused")
	reg := NewRegistry(es, nil, logging.Discard())

	if _, _, err := reg.Acquire(context.Background(), calendar.OwnerScope("u1")); err == nil {
		t.Fatal("expected acquire error")
	}
	if reg.Len() != 0 {
		t.Fatal("expected failed store dropped")
	}
	if _, _, err := reg.Acquire(context.Background(), calendar.Scope{Kind: "team", ID: "x"}); err == nil {
		t.Fatal("expected invalid scope error")
	}
}

func TestView_NavigateAndPlace(t *testing.T) {
	reg := NewRegistry(seeded(), nil, logging.Discard())
	before := metrics.OpenViews.Value()
	warnings := metrics.PlacementWarnings.Value()

	v, err := reg.OpenView(context.Background(), calendar.OwnerScope("u1"), testOptions())
	if err != nil {
		t.Fatalf("OpenView error: %v", err)
	}
	if metrics.OpenViews.Value() != before+1 {
		t.Fatal("expected open view counted")
	}

	w := v.Window()
	if w.Start().String() != "2024-03-04" || w.End().String() != "2024-03-10" {
		t.Fatalf("unexpected window %s", w)
	}

	frame := v.Frame()
	if frame.Layout.Len() != 2 {
		t.Fatalf("expected two placed events, got %d", frame.Layout.Len())
	}
	if len(frame.Layout.Warnings) != 1 || frame.Layout.Warnings[0].EventID != "bad" {
		t.Fatalf("expected warning for bad event, got %+v", frame.Layout.Warnings)
	}
	if metrics.PlacementWarnings.Value() != warnings+1 {
		t.Fatal("expected placement warning counted")
	}

	if got := v.Navigate(1); got.Start().String() != "2024-03-11" {
		t.Fatalf("unexpected next week %s", got)
	}
	if v.Layout().Len() != 0 {
		t.Fatal("expected empty next week")
	}
	if got := v.Navigate(-2); got.Start().String() != "2024-02-26" {
		t.Fatalf("unexpected previous week %s", got)
	}
	if got := v.GoTo(calendar.MustParseDate("2024-12-31")); got.Start().String() != "2024-12-30" {
		t.Fatalf("unexpected GoTo week %s", got)
	}

	v.Close()
	v.Close()
	if metrics.OpenViews.Value() != before {
		t.Fatal("expected open view released")
	}
	if reg.Len() != 0 {
		t.Fatal("expected store released with the last view")
	}
}

func TestView_TodayUsesClock(t *testing.T) {
	reg := NewRegistry(seeded(), nil, logging.Discard())
	opts := testOptions()
	opts.Reference = calendar.Date{}
	opts.Location = time.UTC
	opts.Now = func() time.Time { return time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC) }

	v, err := reg.OpenView(context.Background(), calendar.OwnerScope("u1"), opts)
	if err != nil {
		t.Fatalf("OpenView error: %v", err)
	}
	defer v.Close()

	if got := v.Window().Start().String(); got != "2024-03-04" {
		t.Fatalf("expected Sunday to belong to the week of Monday 2024-03-04, got %s", got)
	}
	v.Navigate(3)
	if got := v.Today().Start().String(); got != "2024-03-04" {
		t.Fatalf("unexpected today week %s", got)
	}
}

func TestView_SubscribeReceivesFrames(t *testing.T) {
	reg := NewRegistry(seeded(), nil, logging.Discard())
	v, err := reg.OpenView(context.Background(), calendar.OwnerScope("u1"), testOptions())
	if err != nil {
		t.Fatalf("OpenView error: %v", err)
	}
	frames, stop := v.Subscribe()
	defer stop()

	date := "2024-03-08"
	if _, err := v.Store().ApplyOptimistic("a", calendar.Patch{StartDate: &date}); err != nil {
		t.Fatalf("ApplyOptimistic error: %v", err)
	}

	select {
	case f := <-frames:
		placed, ok := f.Layout.Find("a")
		if !ok || placed.Date.String() != "2024-03-08" {
			t.Fatalf("expected moved event in frame, got %+v", placed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	v.Navigate(1)
	select {
	case f := <-frames:
		if f.Window.Start().String() != "2024-03-11" {
			t.Fatalf("expected navigation frame, got %s", f.Window)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for navigation frame")
	}

	v.Close()
	if _, ok := <-frames; ok {
		t.Fatal("expected frames closed on unmount")
	}
}

func TestView_DragThroughView(t *testing.T) {
	reg := NewRegistry(seeded(), nil, logging.Discard())
	v, err := reg.OpenView(context.Background(), calendar.OwnerScope("u1"), testOptions())
	if err != nil {
		t.Fatalf("OpenView error: %v", err)
	}
	defer v.Close()

	if _, err := v.Drag().Begin("a"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	g := v.Geometry()
	if _, err := v.Drag().DropAt(context.Background(), v.Window(), g, g.ColumnLeft(2)+g.ColumnWidth/2); err != nil {
		t.Fatalf("DropAt error: %v", err)
	}
	placed, ok := v.Layout().Find("a")
	if !ok || placed.Date.String() != "2024-03-06" || placed.Start.String() != "09:00" {
		t.Fatalf("expected event on Wednesday at 09:00, got %+v", placed)
	}
}

func TestMounts_ReplaceClosesPrevious(t *testing.T) {
	reg := NewRegistry(seeded(), nil, logging.Discard())
	m := NewMounts()

	first, err := reg.OpenView(context.Background(), calendar.OwnerScope("u1"), testOptions())
	if err != nil {
		t.Fatalf("OpenView error: %v", err)
	}
	second, err := reg.OpenView(context.Background(), calendar.OwnerScope("u1"), testOptions())
	if err != nil {
		t.Fatalf("OpenView error: %v", err)
	}
	frames, _ := first.Subscribe()

	m.Replace("u1|owner:u1", first)
	m.Replace("u1|owner:u1", second)
	if _, ok := <-frames; ok {
		t.Fatal("expected displaced view closed")
	}
	if got, _ := m.Get("u1|owner:u1"); got != second {
		t.Fatal("expected second view mounted")
	}

	m.Release("u1|owner:u1", first)
	if _, ok := m.Get("u1|owner:u1"); !ok {
		t.Fatal("stale release must not unmount the current view")
	}
	if n := m.CloseAll(func(string) bool { return true }); n != 1 {
		t.Fatalf("expected one view closed, got %d", n)
	}
	if reg.Len() != 0 {
		t.Fatal("expected store released")
	}
}
