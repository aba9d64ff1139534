// Package icsbridge converts between calendar events and iCalendar files.
package icsbridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/logging"
)

const productID = "-//dragcal//week grid//EN"

const (
	floatingLayout = "20060102T150405"
	utcLayout      = "20060102T150405Z"
)

// ImportOptions control how VEVENTs become events.
type ImportOptions struct {
	Scope calendar.Scope
	// Location is the zone wall-clock times are expressed in. Defaults to
	// time.Local.
	Location *time.Location
}

// Skipped is a VEVENT that could not become an event.
type Skipped struct {
	UID    string
	Reason string
}

type ImportResult struct {
	Events  []calendar.Event
	Skipped []Skipped
}

// Parse reads an iCalendar document. Every VEVENT with a timed start becomes
// an event of opts.Scope keyed by its UID. All-day and malformed entries are
// reported in Skipped and do not fail the document.
func Parse(r io.Reader, opts ImportOptions) (ImportResult, error) {
	if err := opts.Scope.Validate(); err != nil {
		return ImportResult{}, err
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return ImportResult{}, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ImportResult{}, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return ImportResult{}, fmt.Errorf("parse ics: %w", err)
	}

	var res ImportResult
	for _, ve := range cal.Events() {
		e, err := fromVEvent(ve, opts)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{UID: ve.Id(), Reason: err.Error()})
			continue
		}
		res.Events = append(res.Events, e)
	}
	return res, nil
}

func fromVEvent(ve *ical.VEvent, opts ImportOptions) (calendar.Event, error) {
	uid := strings.TrimSpace(ve.Id())
	if uid == "" {
		return calendar.Event{}, errors.New("missing UID")
	}
	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return calendar.Event{}, errors.New("missing DTSTART")
	}
	if isAllDay(startProp) {
		return calendar.Event{}, errors.New("all-day events have no place on the time grid")
	}
	start, err := propTime(startProp, opts.Location)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("DTSTART: %w", err)
	}

	duration := calendar.DefaultDurationHours
	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		end, err := propTime(endProp, opts.Location)
		if err != nil {
			return calendar.Event{}, fmt.Errorf("DTEND: %w", err)
		}
		duration = end.Sub(start).Hours()
	}
	if duration <= 0 {
		return calendar.Event{}, fmt.Errorf("%w: %v", calendar.ErrNonPositiveDuration, duration)
	}

	title := ""
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		title = strings.TrimSpace(p.Value)
	}
	if title == "" {
		title = "(untitled)"
	}

	e := calendar.Event{
		ID:            uid,
		Title:         title,
		StartDate:     calendar.DateOf(start).String(),
		StartTime:     start.Format("15:04"),
		DurationHours: math.Round(duration*100) / 100,
		Status:        statusFromICS(ve),
	}
	switch opts.Scope.Kind {
	case calendar.ScopeCompany:
		e.CompanyID = opts.Scope.ID
	default:
		e.OwnerID = opts.Scope.ID
	}
	return e, nil
}

func isAllDay(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// propTime reads a DATE-TIME property as wall-clock time in loc. UTC and
// TZID values are converted; floating values are taken as they are.
func propTime(p *ical.IANAProperty, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(p.Value)
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(utcLayout, v)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(loc), nil
	}
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		src, err := time.LoadLocation(tz[0])
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown TZID %q", tz[0])
		}
		t, err := time.ParseInLocation(floatingLayout, v, src)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(loc), nil
	}
	return time.ParseInLocation(floatingLayout, v, loc)
}

func statusFromICS(ve *ical.VEvent) calendar.Status {
	p := ve.GetProperty(ical.ComponentPropertyStatus)
	if p == nil {
		return ""
	}
	switch strings.ToUpper(strings.TrimSpace(p.Value)) {
	case "CONFIRMED":
		return calendar.StatusAccepted
	case "COMPLETED":
		return calendar.StatusDone
	case "TENTATIVE", "NEEDS-ACTION":
		return calendar.StatusPending
	default:
		return ""
	}
}

func statusToICS(s calendar.Status) string {
	switch s {
	case calendar.StatusAccepted:
		return "CONFIRMED"
	case calendar.StatusDone:
		return "COMPLETED"
	case calendar.StatusPending:
		return "TENTATIVE"
	default:
		return ""
	}
}

// Importer stores events under their existing ids.
type Importer interface {
	Import(ctx context.Context, e calendar.Event) (calendar.Event, error)
}

// Load writes events through dst and returns how many were stored. It stops
// at the first failure.
func Load(ctx context.Context, dst Importer, events []calendar.Event, logger *slog.Logger) (int, error) {
	log := logging.Component(ctx, logger, "icsbridge", "load")
	for i, e := range events {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := dst.Import(ctx, e); err != nil {
			log.Error("import failed", "event_id", e.ID, "error", err)
			return i, fmt.Errorf("import %s: %w", e.ID, err)
		}
	}
	log.Info("events imported", "count", len(events))
	return len(events), nil
}

// ExportOptions describe the exported calendar.
type ExportOptions struct {
	Name     string
	Location *time.Location
	Now      time.Time
}

// Export writes the events of window as an iCalendar document. Events that
// fall outside the window or cannot be placed are left out.
func Export(w io.Writer, window calendar.WeekWindow, events []calendar.Event, opts ExportOptions) (int, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	n := 0
	for _, e := range events {
		start, ok := startOf(e, window, opts.Location)
		if !ok {
			continue
		}
		end := start.Add(time.Duration(e.DurationHours * float64(time.Hour)))

		ve := cal.AddEvent(e.ID)
		ve.SetDtStampTime(opts.Now)
		ve.SetProperty(ical.ComponentPropertyDtStart, start.Format(floatingLayout))
		ve.SetProperty(ical.ComponentPropertyDtEnd, end.Format(floatingLayout))
		ve.SetSummary(e.Title)
		if s := statusToICS(e.Status); s != "" {
			ve.SetProperty(ical.ComponentPropertyStatus, s)
		}
		n++
	}
	_, err := io.WriteString(w, cal.Serialize())
	return n, err
}

func startOf(e calendar.Event, window calendar.WeekWindow, loc *time.Location) (time.Time, bool) {
	d, err := calendar.ParseDate(e.StartDate)
	if err != nil || !window.Contains(d) {
		return time.Time{}, false
	}
	tod, err := calendar.ParseTimeOfDay(e.StartTime)
	if err != nil || e.DurationHours <= 0 {
		return time.Time{}, false
	}
	return time.Date(d.Year, d.Month, d.Day, tod.Hour, tod.Minute, 0, 0, loc), true
}
