package calendar

import (
	"testing"
	"time"
)

func TestNewWeekWindow_WednesdayReference(t *testing.T) {
	w := NewWeekWindow(MustParseDate("2024-03-06"), time.Monday)
	if got := w.Days[0].String(); got != "2024-03-04" {
		t.Fatalf("expected first day 2024-03-04, got %s", got)
	}
	if got := w.Days[6].String(); got != "2024-03-10" {
		t.Fatalf("expected last day 2024-03-10, got %s", got)
	}
	for i := 1; i < len(w.Days); i++ {
		if w.Days[i-1].AddDays(1) != w.Days[i] {
			t.Fatalf("days are not consecutive at %d: %s then %s", i, w.Days[i-1], w.Days[i])
		}
	}
}

func TestStartOfWeek_SundayBelongsToPreviousMonday(t *testing.T) {
	got := StartOfWeek(MustParseDate("2024-03-10"))
	if got.String() != "2024-03-04" {
		t.Fatalf("expected 2024-03-04, got %s", got)
	}
}

func TestStartOfWeek_Properties(t *testing.T) {
	start := MustParseDate("2023-12-20")
	for i := 0; i < 800; i++ {
		d := start.AddDays(i)
		sow := StartOfWeek(d)
		if sow.Weekday() != time.Monday {
			t.Fatalf("StartOfWeek(%s) = %s is a %s", d, sow, sow.Weekday())
		}
		if StartOfWeek(sow) != sow {
			t.Fatalf("StartOfWeek not idempotent for %s", d)
		}
		y1, w1 := d.Time().ISOWeek()
		y2, w2 := sow.Time().ISOWeek()
		if y1 != y2 || w1 != w2 {
			t.Fatalf("StartOfWeek(%s) = %s left ISO week %d-%d for %d-%d", d, sow, y1, w1, y2, w2)
		}
	}
}

func TestStartOfWeekOn_Sunday(t *testing.T) {
	got := StartOfWeekOn(MustParseDate("2024-03-06"), time.Sunday)
	if got.String() != "2024-03-03" {
		t.Fatalf("expected 2024-03-03, got %s", got)
	}
	if got := StartOfWeekOn(MustParseDate("2024-03-03"), time.Sunday); got.String() != "2024-03-03" {
		t.Fatalf("expected a Sunday to start its own week, got %s", got)
	}
}

func TestShiftWeeks_CrossesDaylightSavingAndYearEnd(t *testing.T) {
	tests := []struct {
		name  string
		ref   string
		delta int
		first string
	}{
		{"spring forward", "2024-03-06", 1, "2024-03-11"},
		{"fall back", "2024-10-30", 1, "2024-11-04"},
		{"backwards over new year", "2024-01-03", -1, "2023-12-25"},
		{"many weeks", "2024-03-06", 52, "2025-03-03"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWeekWindow(MustParseDate(tt.ref), time.Monday).ShiftWeeks(tt.delta)
			if got := w.Start().String(); got != tt.first {
				t.Fatalf("expected %s, got %s", tt.first, got)
			}
			if w.WeekStart != time.Monday {
				t.Fatalf("week start changed to %s", w.WeekStart)
			}
		})
	}
}

func TestWeekWindow_IndexOf(t *testing.T) {
	w := NewWeekWindow(MustParseDate("2024-03-06"), time.Monday)
	if got := w.IndexOf(MustParseDate("2024-03-04")); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := w.IndexOf(MustParseDate("2024-03-10")); got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}
	if w.Contains(MustParseDate("2024-03-11")) || w.Contains(MustParseDate("2024-03-03")) {
		t.Fatal("expected neighbouring weeks outside the window")
	}
}

func TestParseWeekday(t *testing.T) {
	if d, err := ParseWeekday(" Sunday "); err != nil || d != time.Sunday {
		t.Fatalf("expected sunday, got %v %v", d, err)
	}
	if _, err := ParseWeekday("someday"); err == nil {
		t.Fatal("expected error for unknown day")
	}
}
