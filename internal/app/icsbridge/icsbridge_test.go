package icsbridge

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/logging"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup-1\r\n" +
	"DTSTAMP:20240301T000000Z\r\n" +
	"DTSTART:20240304T090000\r\n" +
	"DTEND:20240304T093000\r\n" +
	"SUMMARY:Standup\r\n" +
	"STATUS:CONFIRMED\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:review-1\r\n" +
	"DTSTAMP:20240301T000000Z\r\n" +
	"DTSTART:20240305T130000Z\r\n" +
	"SUMMARY:Review\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday-1\r\n" +
	"DTSTAMP:20240301T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20240308\r\n" +
	"SUMMARY:Holiday\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:backwards-1\r\n" +
	"DTSTAMP:20240301T000000Z\r\n" +
	"DTSTART:20240306T100000\r\n" +
	"DTEND:20240306T090000\r\n" +
	"SUMMARY:Backwards\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParse(t *testing.T) {
	res, err := Parse(strings.NewReader(sampleICS), ImportOptions{Scope: calendar.OwnerScope("u1"), Location: time.UTC})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 events, got %+v", res.Events)
	}

	standup := res.Events[0]
	if standup.ID != "standup-1" || standup.StartDate != "2024-03-04" || standup.StartTime != "09:00" ||
		standup.DurationHours != 0.5 || standup.OwnerID != "u1" || standup.Status != calendar.StatusAccepted {
		t.Fatalf("unexpected standup %+v", standup)
	}
	review := res.Events[1]
	if review.StartTime != "13:00" || review.DurationHours != 1 {
		t.Fatalf("expected default duration for review, got %+v", review)
	}

	if len(res.Skipped) != 2 || res.Skipped[0].UID != "holiday-1" || res.Skipped[1].UID != "backwards-1" {
		t.Fatalf("unexpected skipped %+v", res.Skipped)
	}
}

func TestParse_ConvertsUTCToLocation(t *testing.T) {
	tallinn := time.FixedZone("EET", 2*60*60)
	res, err := Parse(strings.NewReader(sampleICS), ImportOptions{Scope: calendar.CompanyScope("c1"), Location: tallinn})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	review := res.Events[1]
	if review.StartTime != "15:00" || review.CompanyID != "c1" || review.OwnerID != "" {
		t.Fatalf("unexpected review %+v", review)
	}
}

func TestParse_Rejects(t *testing.T) {
	if _, err := Parse(strings.NewReader(""), ImportOptions{Scope: calendar.OwnerScope("u1")}); err == nil {
		t.Fatal("expected empty body error")
	}
	if _, err := Parse(strings.NewReader(sampleICS), ImportOptions{}); err == nil {
		t.Fatal("expected scope error")
	}
}

func TestExportRoundTrip(t *testing.T) {
	w := calendar.NewWeekWindow(calendar.MustParseDate("2024-03-06"), time.Monday)
	events := []calendar.Event{
		{ID: "a", Title: "Standup", StartDate: "2024-03-04", StartTime: "09:00", DurationHours: 1, OwnerID: "u1", Status: calendar.StatusDone},
		{ID: "b", Title: "Next week", StartDate: "2024-03-11", StartTime: "09:00", DurationHours: 1, OwnerID: "u1"},
		{ID: "c", Title: "Broken", StartDate: "2024-03-05", StartTime: "25:99", DurationHours: 1, OwnerID: "u1"},
	}

	var buf bytes.Buffer
	n, err := Export(&buf, w, events, ExportOptions{Name: "u1", Location: time.UTC, Now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one exported event, got %d", n)
	}
	out := buf.String()
	for _, want := range []string{"BEGIN:VCALENDAR", "UID:a", "DTSTART:20240304T090000", "DTEND:20240304T100000", "STATUS:COMPLETED"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in export:\n%s", want, out)
		}
	}

	res, err := Parse(&buf, ImportOptions{Scope: calendar.OwnerScope("u1"), Location: time.UTC})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0] != events[0] {
		t.Fatalf("expected exported event to read back unchanged, got %+v", res.Events)
	}
}

type fakeImporter struct {
	got  []string
	fail string
}

func (f *fakeImporter) Import(_ context.Context, e calendar.Event) (calendar.Event, error) {
	if e.ID == f.fail {
		return calendar.Event{}, errors.New("duplicate key")
	}
	f.got = append(f.got, e.ID)
	return e, nil
}

func TestLoad(t *testing.T) {
	events := []calendar.Event{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	dst := &fakeImporter{fail: "b"}
	n, err := Load(context.Background(), dst, events, logging.Discard())
	if err == nil || n != 1 {
		t.Fatalf("expected failure after one event, got n=%d err=%v", n, err)
	}

	dst = &fakeImporter{}
	if n, err := Load(context.Background(), dst, events, logging.Discard()); err != nil || n != 3 {
		t.Fatalf("expected all events loaded, got n=%d err=%v", n, err)
	}
}
