package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dragcal/project/internal/logging"
	"github.com/robfig/cron/v3"
)

// Reloader is anything that can refresh itself from the backing store.
type Reloader interface {
	Reload(ctx context.Context, trigger string) error
}

// Resyncer reloads registered stores on a cron schedule, catching up on any
// change notification the feed lost.
type Resyncer struct {
	cron     *cron.Cron
	schedule cron.Schedule
	logger   *slog.Logger
}

// NewResyncer parses spec in standard cron syntax, including descriptors such
// as "@every 5m".
func NewResyncer(spec string, logger *slog.Logger) (*Resyncer, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse resync schedule %q: %w", spec, err)
	}
	return &Resyncer{
		cron:     cron.New(),
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Add schedules periodic reloads of r until the returned func is called.
func (rs *Resyncer) Add(r Reloader, label string) (remove func()) {
	id := rs.cron.Schedule(rs.schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		defer cancel()
		if err := r.Reload(ctx, TriggerResync); err != nil && !errors.Is(err, ErrClosed) {
			logging.Component(ctx, rs.logger, "schedule", "resync", "target", label).Warn("resync failed", "error", err)
		}
	}))
	return func() { rs.cron.Remove(id) }
}

// Next reports when the schedule fires next after t.
func (rs *Resyncer) Next(t time.Time) time.Time {
	return rs.schedule.Next(t)
}

func (rs *Resyncer) Start() {
	rs.cron.Start()
}

// Stop halts the schedule and waits for running reloads.
func (rs *Resyncer) Stop() {
	<-rs.cron.Stop().Done()
}
