// Package eventstore persists calendar events and announces every committed
// write on a change feed.
package eventstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/contracts"
	"github.com/dragcal/project/internal/sharding"
)

// EventsTable is the table name carried by change notifications.
const EventsTable = "events"

var ErrNotFound = errors.New("event not found")

// ChangeFunc receives change notifications in arrival order.
type ChangeFunc func(contracts.ChangeNotification)

// FromRecord converts a wire record, defaulting a missing duration to one hour.
func FromRecord(r contracts.EventRecord) calendar.Event {
	duration := calendar.DefaultDurationHours
	if r.DurationHours != nil {
		duration = *r.DurationHours
	}
	return calendar.Event{
		ID:            r.ID,
		Title:         r.Title,
		StartDate:     r.StartDate,
		StartTime:     r.StartTime,
		DurationHours: duration,
		OwnerID:       r.AssignedTo,
		CompanyID:     r.CompanyID,
		Status:        calendar.Status(r.Status),
	}
}

func ToRecord(e calendar.Event) contracts.EventRecord {
	duration := e.DurationHours
	return contracts.EventRecord{
		ID:            e.ID,
		Title:         e.Title,
		StartDate:     e.StartDate,
		StartTime:     e.StartTime,
		DurationHours: &duration,
		AssignedTo:    e.OwnerID,
		CompanyID:     e.CompanyID,
		Status:        string(e.Status),
	}
}

func newNotification(id, kind string, e calendar.Event, now time.Time) contracts.ChangeNotification {
	scopeKey := calendar.ScopeOf(e).Key()
	record := ToRecord(e)
	return contracts.ChangeNotification{
		NotificationID: id,
		Table:          EventsTable,
		Kind:           kind,
		RecordID:       e.ID,
		ScopeKey:       scopeKey,
		Record:         &record,
		OccurredAt:     now.UTC(),
		ShardID:        sharding.GetShardID(scopeKey),
	}
}

func scopeColumn(s calendar.Scope) (string, error) {
	switch s.Kind {
	case calendar.ScopeOwner:
		return "assigned_to", nil
	case calendar.ScopeCompany:
		return "company_id", nil
	default:
		return "", fmt.Errorf("unknown scope kind %q", s.Kind)
	}
}

// inScope hides an event that exists but belongs to another scope.
func inScope(scope calendar.Scope, e calendar.Event, err error) (calendar.Event, error) {
	if err != nil {
		return calendar.Event{}, err
	}
	if !scope.Matches(e) {
		return calendar.Event{}, fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}
	return e, nil
}

type assignment struct {
	column string
	value  any
}

// assignments lists the columns a patch rewrites, in a fixed order.
func assignments(p calendar.Patch) []assignment {
	var out []assignment
	if p.Title != nil {
		out = append(out, assignment{"title", strings.TrimSpace(*p.Title)})
	}
	if p.StartDate != nil {
		out = append(out, assignment{"start_date", *p.StartDate})
	}
	if p.StartTime != nil {
		out = append(out, assignment{"start_time", *p.StartTime})
	}
	if p.DurationHours != nil {
		out = append(out, assignment{"duration_hours", *p.DurationHours})
	}
	if p.Status != nil {
		out = append(out, assignment{"status", string(*p.Status)})
	}
	return out
}

// setClause renders `col = <ph>, ...` and the matching arguments. placeholder
// receives the 1-based argument position.
func setClause(items []assignment, placeholder func(int) string) (string, []any) {
	parts := make([]string, 0, len(items))
	args := make([]any, 0, len(items))
	for i, item := range items {
		parts = append(parts, item.column+" = "+placeholder(i+1))
		args = append(args, item.value)
	}
	return strings.Join(parts, ", "), args
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
