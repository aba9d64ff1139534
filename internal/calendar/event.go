package calendar

import (
	"math"
	"strings"
)

// DefaultDurationHours applies when a stored event carries no duration.
const DefaultDurationHours = 1.0

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDone     Status = "done"
)

// Valid reports whether s is a known status. The single-user variant stores
// no status at all, so the empty value is valid too.
func (s Status) Valid() bool {
	switch s {
	case "", StatusPending, StatusAccepted, StatusDone:
		return true
	default:
		return false
	}
}

// Event is a time-bound work item as the store returns it. Date and time stay
// in their wire form so one malformed record can be skipped at placement time
// instead of failing a whole query.
type Event struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	StartDate     string  `json:"start_date"`
	StartTime     string  `json:"start_time"`
	DurationHours float64 `json:"duration_hours"`
	OwnerID       string  `json:"assigned_to,omitempty"`
	CompanyID     string  `json:"company_id,omitempty"`
	Status        Status  `json:"status,omitempty"`
}

// Draft is manual entry input; the store assigns the id.
type Draft struct {
	Title         string   `json:"title"`
	StartDate     string   `json:"start_date"`
	StartTime     string   `json:"start_time"`
	DurationHours *float64 `json:"duration_hours,omitempty"`
	OwnerID       string   `json:"assigned_to,omitempty"`
	CompanyID     string   `json:"company_id,omitempty"`
	Status        Status   `json:"status,omitempty"`
}

// Duration returns the requested duration, defaulting to one hour.
func (d Draft) Duration() float64 {
	if d.DurationHours == nil {
		return DefaultDurationHours
	}
	return *d.DurationHours
}

// Validate checks every field before the draft reaches a store.
func (d Draft) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(d.Title) == "" {
		verr.add("title", "title is required")
	}
	validateDate(verr, d.StartDate)
	validateTime(verr, d.StartTime)
	validateDuration(verr, d.Duration())
	if !d.Status.Valid() {
		verr.add("status", "status must be pending, accepted or done")
	}
	if d.OwnerID == "" && d.CompanyID == "" {
		verr.add("scope", "an owner or a company is required")
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// Event builds the event a store persists for d under id.
func (d Draft) Event(id string) Event {
	return Event{
		ID:            id,
		Title:         strings.TrimSpace(d.Title),
		StartDate:     d.StartDate,
		StartTime:     d.StartTime,
		DurationHours: d.Duration(),
		OwnerID:       d.OwnerID,
		CompanyID:     d.CompanyID,
		Status:        d.Status,
	}
}

// Patch carries the fields an update replaces. Nil means unchanged.
type Patch struct {
	Title         *string  `json:"title,omitempty"`
	StartDate     *string  `json:"start_date,omitempty"`
	StartTime     *string  `json:"start_time,omitempty"`
	DurationHours *float64 `json:"duration_hours,omitempty"`
	Status        *Status  `json:"status,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && !p.TouchesSchedule() && p.Status == nil
}

// TouchesSchedule reports whether p changes any of date, time or duration.
func (p Patch) TouchesSchedule() bool {
	return p.StartDate != nil || p.StartTime != nil || p.DurationHours != nil
}

// WithSchedule returns p with the whole date/time/duration triple set, taking
// missing members from current. Positions are never written partially.
func (p Patch) WithSchedule(current Event) Patch {
	if !p.TouchesSchedule() {
		return p
	}
	if p.StartDate == nil {
		v := current.StartDate
		p.StartDate = &v
	}
	if p.StartTime == nil {
		v := current.StartTime
		p.StartTime = &v
	}
	if p.DurationHours == nil {
		v := current.DurationHours
		if v == 0 {
			v = DefaultDurationHours
		}
		p.DurationHours = &v
	}
	return p
}

func (p Patch) Validate() error {
	verr := &ValidationError{}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		verr.add("title", "title is required")
	}
	if p.StartDate != nil {
		validateDate(verr, *p.StartDate)
	}
	if p.StartTime != nil {
		validateTime(verr, *p.StartTime)
	}
	if p.DurationHours != nil {
		validateDuration(verr, *p.DurationHours)
	}
	if p.Status != nil && (*p.Status == "" || !p.Status.Valid()) {
		verr.add("status", "status must be pending, accepted or done")
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// Apply returns e with p's fields written over it.
func (p Patch) Apply(e Event) Event {
	if p.Title != nil {
		e.Title = strings.TrimSpace(*p.Title)
	}
	if p.StartDate != nil {
		e.StartDate = *p.StartDate
	}
	if p.StartTime != nil {
		e.StartTime = *p.StartTime
	}
	if p.DurationHours != nil {
		e.DurationHours = *p.DurationHours
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	return e
}

func validateDate(verr *ValidationError, raw string) {
	if strings.TrimSpace(raw) == "" {
		verr.add("start_date", "start date is required")
		return
	}
	if _, err := ParseDate(raw); err != nil {
		verr.add("start_date", "start date must be YYYY-MM-DD")
	}
}

func validateTime(verr *ValidationError, raw string) {
	if strings.TrimSpace(raw) == "" {
		verr.add("start_time", "start time is required")
		return
	}
	if _, err := ParseTimeOfDay(raw); err != nil {
		verr.add("start_time", "start time must be HH:MM")
	}
}

func validateDuration(verr *ValidationError, hours float64) {
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours <= 0 {
		verr.add("duration_hours", "duration must be a positive number of hours")
	}
}
