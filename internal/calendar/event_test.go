package calendar

import (
	"errors"
	"testing"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"09:00", "09:00", true},
		{"23:59", "23:59", true},
		{"07:30:15", "07:30", true},
		{"25:99", "", false},
		{"9:00", "", false},
		{"", "", false},
		{"ab:cd", "", false},
		{"12:60", "", false},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.raw)
		if tt.ok != (err == nil) {
			t.Fatalf("%q: expected ok=%v, got err=%v", tt.raw, tt.ok, err)
		}
		if tt.ok && got.String() != tt.want {
			t.Fatalf("%q: expected %s, got %s", tt.raw, tt.want, got)
		}
		if !tt.ok && !errors.Is(err, ErrMalformedTime) {
			t.Fatalf("%q: expected ErrMalformedTime, got %v", tt.raw, err)
		}
	}
}

func TestDraftValidate(t *testing.T) {
	zero := 0.0
	draft := Draft{Title: "  ", StartDate: "2024-02-30", StartTime: "25:99", DurationHours: &zero}
	err := draft.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"title", "start_date", "start_time", "duration_hours", "scope"} {
		if _, ok := verr.FieldErrors[field]; !ok {
			t.Fatalf("expected field error for %s, got %v", field, verr.FieldErrors)
		}
	}

	valid := Draft{Title: "Standup", StartDate: "2024-03-04", StartTime: "09:00", OwnerID: "u1"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid draft, got %v", err)
	}
	if e := valid.Event("id-1"); e.DurationHours != DefaultDurationHours || e.ID != "id-1" {
		t.Fatalf("unexpected event %+v", e)
	}

	unscoped := valid
	unscoped.OwnerID = ""
	if err := unscoped.Validate(); err == nil {
		t.Fatal("expected draft without scope to fail")
	}
}

func TestPatchWithSchedule(t *testing.T) {
	current := Event{ID: "1", StartDate: "2024-03-04", StartTime: "09:00", DurationHours: 2}
	date := "2024-03-06"
	p := Patch{StartDate: &date}.WithSchedule(current)
	if p.StartTime == nil || *p.StartTime != "09:00" || p.DurationHours == nil || *p.DurationHours != 2 {
		t.Fatalf("expected full triple, got %+v", p)
	}
	updated := p.Apply(current)
	if updated.StartDate != "2024-03-06" || updated.StartTime != "09:00" {
		t.Fatalf("unexpected apply result %+v", updated)
	}

	title := "Renamed"
	onlyTitle := Patch{Title: &title}.WithSchedule(current)
	if onlyTitle.TouchesSchedule() {
		t.Fatal("title-only patch must not grow schedule fields")
	}
}

func TestPatchValidate(t *testing.T) {
	empty := ""
	bad := Status("archived")
	if err := (Patch{Title: &empty, Status: &bad}).Validate(); err == nil {
		t.Fatal("expected invalid patch")
	}
	if !(Patch{}).IsEmpty() {
		t.Fatal("expected empty patch")
	}
}
