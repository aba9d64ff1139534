package calendar

import (
	"fmt"
	"strings"
	"time"
)

const DaysPerWeek = 7

// WeekWindow is the seven-day span on screen. A window is a value: navigation
// returns a new one rather than editing Days in place.
type WeekWindow struct {
	Reference Date
	WeekStart time.Weekday
	Days      [DaysPerWeek]Date
}

// StartOfWeek returns the Monday of the ISO week containing d. A Sunday
// belongs to the week that started six days earlier.
func StartOfWeek(d Date) Date {
	return StartOfWeekOn(d, time.Monday)
}

// StartOfWeekOn returns the most recent first day on or before d.
func StartOfWeekOn(d Date, first time.Weekday) Date {
	back := (int(d.Weekday()) - int(first) + DaysPerWeek) % DaysPerWeek
	return d.AddDays(-back)
}

// NewWeekWindow builds the window containing reference.
func NewWeekWindow(reference Date, first time.Weekday) WeekWindow {
	w := WeekWindow{Reference: reference, WeekStart: first}
	start := StartOfWeekOn(reference, first)
	for i := range w.Days {
		w.Days[i] = start.AddDays(i)
	}
	return w
}

// ShiftWeeks moves the reference date by delta whole weeks.
func (w WeekWindow) ShiftWeeks(delta int) WeekWindow {
	return NewWeekWindow(w.Reference.AddDays(delta*DaysPerWeek), w.WeekStart)
}

func (w WeekWindow) Start() Date {
	return w.Days[0]
}

func (w WeekWindow) End() Date {
	return w.Days[DaysPerWeek-1]
}

// IndexOf returns the column of d, or -1 when d is outside the window.
func (w WeekWindow) IndexOf(d Date) int {
	offset := w.Start().DaysUntil(d)
	if offset < 0 || offset >= DaysPerWeek {
		return -1
	}
	return offset
}

func (w WeekWindow) Contains(d Date) bool {
	return w.IndexOf(d) >= 0
}

func (w WeekWindow) String() string {
	return w.Start().String() + ".." + w.End().String()
}

// ParseWeekday accepts the English day name, case-insensitively.
func ParseWeekday(raw string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", raw)
}
