// Package drag moves events between day columns with a pointer gesture.
//
// A gesture runs Idle -> Dragging -> Dropped|Cancelled -> Idle. Only one
// gesture is active at a time. A drop changes the event's date and keeps its
// start time.
package drag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dragcal/project/internal/app/schedule"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/logging"
	"github.com/dragcal/project/internal/platform/metrics"
)

var (
	ErrGestureActive = errors.New("a drag gesture is already active")
	ErrNotDragging   = errors.New("no drag gesture is active")
	ErrUnknownEvent  = errors.New("dragged event is not in the schedule")
	// ErrInvalidTarget reports a release outside every day column. The
	// gesture is cancelled and no write is made.
	ErrInvalidTarget = errors.New("drop target is not a day column")
)

type State int

const (
	Idle State = iota
	Dragging
	Dropped
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Dropped:
		return "dropped"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome labels for resolved gestures.
const (
	OutcomeMoved     = "moved"
	OutcomeUnchanged = "unchanged"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Scheduler is the part of schedule.Store a gesture needs.
type Scheduler interface {
	Get(id string) (calendar.Event, bool)
	ApplyOptimistic(id string, patch calendar.Patch) (schedule.Mutation, error)
	Rollback(m schedule.Mutation) bool
	Update(ctx context.Context, id string, patch calendar.Patch) (calendar.Event, error)
}

// Gesture is the event picked up by pointer-down and where it came from.
type Gesture struct {
	EventID    string
	OriginDate string
	OriginTime string
}

// Result describes how a gesture resolved.
type Result struct {
	Outcome    string
	EventID    string
	From       string
	To         string
	Event      calendar.Event
	RolledBack bool
}

type Rescheduler struct {
	store  Scheduler
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	gesture Gesture
}

func New(store Scheduler, logger *slog.Logger) *Rescheduler {
	return &Rescheduler{store: store, logger: logger}
}

func (r *Rescheduler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Active returns the current gesture while one is dragging or dropping.
func (r *Rescheduler) Active() (Gesture, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Idle {
		return Gesture{}, false
	}
	return r.gesture, true
}

// Begin picks up event id. A pointer-down during another gesture is
// ignored and reported with ErrGestureActive.
func (r *Rescheduler) Begin(id string) (Gesture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return Gesture{}, ErrGestureActive
	}
	e, ok := r.store.Get(id)
	if !ok {
		return Gesture{}, fmt.Errorf("%w: %s", ErrUnknownEvent, id)
	}
	r.gesture = Gesture{EventID: e.ID, OriginDate: e.StartDate, OriginTime: e.StartTime}
	r.state = Dragging
	return r.gesture, nil
}

// Cancel aborts the dragging gesture. Nothing is written.
func (r *Rescheduler) Cancel() (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Dragging {
		return Result{}, ErrNotDragging
	}
	g := r.gesture
	r.state = Idle
	r.gesture = Gesture{}
	metrics.DragGestures.WithLabelValues(OutcomeCancelled).Inc()
	return Result{Outcome: OutcomeCancelled, EventID: g.EventID, From: g.OriginDate}, nil
}

// DropAt releases the gesture at horizontal coordinate x of the grid drawn
// for w with g. A release outside the day columns cancels the gesture.
func (r *Rescheduler) DropAt(ctx context.Context, w calendar.WeekWindow, g calendar.Geometry, x float64) (Result, error) {
	target, ok := g.ColumnAt(w, x)
	if !ok {
		return r.cancelInvalid()
	}
	return r.Drop(ctx, w, target)
}

// Drop releases the gesture over the column of target in w. A target that is
// not one of w's days cancels the gesture with ErrInvalidTarget. The event
// keeps its start time. The snapshot moves immediately; the store write then confirms
// it, or the move is rolled back and the store error returned. The write is
// not tied to ctx's cancellation so a caller that goes away cannot abandon
// it half way.
func (r *Rescheduler) Drop(ctx context.Context, w calendar.WeekWindow, target calendar.Date) (Result, error) {
	if target.IsZero() || !w.Contains(target) {
		return r.cancelInvalid()
	}

	r.mu.Lock()
	if r.state != Dragging {
		r.mu.Unlock()
		return Result{}, ErrNotDragging
	}
	g := r.gesture
	r.state = Dropped
	r.mu.Unlock()
	defer r.reset()

	logger := logging.Component(ctx, r.logger, "drag", "drop", "event_id", g.EventID, "from", g.OriginDate, "to", target.String())
	res := Result{EventID: g.EventID, From: g.OriginDate, To: target.String()}

	if res.To == g.OriginDate {
		res.Outcome = OutcomeUnchanged
		res.Event, _ = r.store.Get(g.EventID)
		metrics.DragGestures.WithLabelValues(res.Outcome).Inc()
		return res, nil
	}

	patch := calendar.Patch{StartDate: &res.To}
	m, err := r.store.ApplyOptimistic(g.EventID, patch)
	if err != nil {
		res.Outcome = OutcomeFailed
		metrics.DragGestures.WithLabelValues(res.Outcome).Inc()
		if errors.Is(err, schedule.ErrUnknownEvent) {
			return res, fmt.Errorf("%w: %s", ErrUnknownEvent, g.EventID)
		}
		return res, err
	}

	updated, err := r.store.Update(context.WithoutCancel(ctx), g.EventID, patch)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.RolledBack = r.store.Rollback(m)
		res.Event, _ = r.store.Get(g.EventID)
		metrics.DragGestures.WithLabelValues(res.Outcome).Inc()
		logger.Error("reschedule failed", "rolled_back", res.RolledBack, "error", err)
		return res, err
	}

	res.Outcome = OutcomeMoved
	res.Event = updated
	metrics.DragGestures.WithLabelValues(res.Outcome).Inc()
	logger.Info("event rescheduled")
	return res, nil
}

func (r *Rescheduler) cancelInvalid() (Result, error) {
	res, err := r.Cancel()
	if err != nil {
		return res, err
	}
	return res, ErrInvalidTarget
}

func (r *Rescheduler) reset() {
	r.mu.Lock()
	r.state = Idle
	r.gesture = Gesture{}
	r.mu.Unlock()
}
