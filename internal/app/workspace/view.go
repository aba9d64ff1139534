package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dragcal/project/internal/app/drag"
	"github.com/dragcal/project/internal/app/schedule"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/logging"
	"github.com/dragcal/project/internal/platform/metrics"
)

const frameDebounce = 50 * time.Millisecond

// Options configure a view.
type Options struct {
	Geometry  calendar.Geometry
	WeekStart time.Weekday
	// Reference is the day the view opens on. Zero means today in Location.
	Reference calendar.Date
	Location  *time.Location
	Now       func() time.Time
}

// Frame is what a view shows at one moment.
type Frame struct {
	Window  calendar.WeekWindow
	Layout  calendar.Layout
	Version uint64
}

// View is one mounted calendar: the displayed week, the schedule of its
// scope and the drag gesture state. It lives from OpenView until Close.
type View struct {
	store    *schedule.Store
	drag     *drag.Rescheduler
	geometry calendar.Geometry
	logger   *slog.Logger
	now      func() time.Time
	loc      *time.Location
	release  func()

	mu          sync.Mutex
	window      calendar.WeekWindow
	subscribers map[uint64]chan Frame
	nextID      uint64
	timer       *time.Timer
	closed      bool
	stopStore   func()
}

// OpenView mounts a view of scope backed by the registry's shared store.
func (r *Registry) OpenView(ctx context.Context, scope calendar.Scope, opts Options) (*View, error) {
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}
	store, release, err := r.Acquire(ctx, scope)
	if err != nil {
		return nil, err
	}
	return newView(store, release, opts, r.logger), nil
}

func newView(store *schedule.Store, release func(), opts Options, logger *slog.Logger) *View {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	ref := opts.Reference
	if ref.IsZero() {
		ref = calendar.Today(opts.Now(), opts.Location)
	}
	v := &View{
		store:       store,
		drag:        drag.New(store, logger),
		geometry:    opts.Geometry,
		logger:      logger,
		now:         opts.Now,
		loc:         opts.Location,
		release:     release,
		window:      calendar.NewWeekWindow(ref, opts.WeekStart),
		subscribers: map[uint64]chan Frame{},
	}
	v.stopStore = store.OnChange(func(schedule.Snapshot) { v.scheduleFrame() })
	metrics.OpenViews.Inc()
	return v
}

func (v *View) Store() *schedule.Store { return v.store }
func (v *View) Drag() *drag.Rescheduler { return v.drag }
func (v *View) Geometry() calendar.Geometry { return v.geometry }
func (v *View) Scope() calendar.Scope { return v.store.Scope() }

func (v *View) Window() calendar.WeekWindow {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.window
}

// Navigate moves the view by delta weeks.
func (v *View) Navigate(delta int) calendar.WeekWindow {
	return v.setWindow(func(w calendar.WeekWindow) calendar.WeekWindow { return w.ShiftWeeks(delta) })
}

// GoTo shows the week containing d.
func (v *View) GoTo(d calendar.Date) calendar.WeekWindow {
	return v.setWindow(func(w calendar.WeekWindow) calendar.WeekWindow {
		return calendar.NewWeekWindow(d, w.WeekStart)
	})
}

// Today shows the current week.
func (v *View) Today() calendar.WeekWindow {
	return v.GoTo(calendar.Today(v.now(), v.loc))
}

func (v *View) setWindow(next func(calendar.WeekWindow) calendar.WeekWindow) calendar.WeekWindow {
	v.mu.Lock()
	v.window = next(v.window)
	w := v.window
	v.mu.Unlock()
	v.publish()
	return w
}

// Frame places the current snapshot on the current week. Placement warnings
// are logged and counted, then carried in the layout.
func (v *View) Frame() Frame {
	w := v.Window()
	snap := v.store.Snapshot()
	layout := calendar.Place(snap.Events, w, v.geometry)
	if len(layout.Warnings) > 0 {
		logger := logging.Component(context.Background(), v.logger, "workspace", "place", "scope", v.Scope().Key(), "week", w.String())
		for _, warn := range layout.Warnings {
			logger.Warn("event left off the grid", "event_id", warn.EventID, "start_date", warn.StartDate, "start_time", warn.StartTime, "reason", warn.Reason)
			metrics.PlacementWarnings.Inc()
		}
	}
	return Frame{Window: w, Layout: layout, Version: snap.Version}
}

// Layout is shorthand for Frame().Layout.
func (v *View) Layout() calendar.Layout {
	return v.Frame().Layout
}

// Subscribe streams a frame after every snapshot change and navigation.
// Bursts of changes are coalesced. Slow receivers miss frames rather than
// block the view.
func (v *View) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, 8)
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	v.nextID++
	id := v.nextID
	v.subscribers[id] = ch
	v.mu.Unlock()

	return ch, func() {
		v.mu.Lock()
		if _, ok := v.subscribers[id]; ok {
			delete(v.subscribers, id)
			close(ch)
		}
		v.mu.Unlock()
	}
}

func (v *View) scheduleFrame() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || len(v.subscribers) == 0 {
		return
	}
	if v.timer == nil {
		v.timer = time.AfterFunc(frameDebounce, v.flushFrame)
		return
	}
	v.timer.Reset(frameDebounce)
}

// Refresh pushes the current frame to subscribers, for changes that are not
// snapshot changes such as picking an event up.
func (v *View) Refresh() {
	v.publish()
}

func (v *View) flushFrame() {
	v.mu.Lock()
	v.timer = nil
	v.mu.Unlock()
	v.publish()
}

func (v *View) publish() {
	v.mu.Lock()
	if v.closed || len(v.subscribers) == 0 {
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()

	frame := v.Frame()

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ch := range v.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Close unmounts the view. Drag writes already sent still complete.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	timer := v.timer
	v.timer = nil
	for id, ch := range v.subscribers {
		delete(v.subscribers, id)
		close(ch)
	}
	v.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	v.stopStore()
	if v.release != nil {
		v.release()
	}
	metrics.OpenViews.Dec()
}
