package frontend

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/dragcal/project/internal/calendar"
)

func TestWeekGrid_RendersPlacedEvents(t *testing.T) {
	g := calendar.DefaultGeometry()
	w := calendar.NewWeekWindow(calendar.MustParseDate("2024-03-06"), time.Monday)
	events := []calendar.Event{
		{ID: "a", Title: "Standup <daily>", StartDate: "2024-03-04", StartTime: "09:00", DurationHours: 1},
		{ID: "b", Title: "Review", StartDate: "2024-03-04", StartTime: "09:30", DurationHours: 1},
		{ID: "bad", Title: "Broken", StartDate: "2024-03-05", StartTime: "25:99", DurationHours: 1},
	}
	layout := calendar.Place(events, w, g)

	var buf bytes.Buffer
	err := WeekGrid(GridData{ScopeKey: "owner:u1", Layout: layout, Geometry: g, Today: calendar.MustParseDate("2024-03-06"), Dragging: "b"}).
		Render(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		`data-week="2024-03-04"`,
		`data-date="2024-03-10"`,
		`class="day today" data-date="2024-03-06"`,
		`data-event-id="a" data-lane="0/2" style="top:580px;height:56px;left:0px;width:70px;"`,
		`class="event dragging"`,
		`Standup &lt;daily&gt;`,
		`<li>`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in grid:\n%s", want, out)
		}
	}
	if strings.Count(out, `class="hour"`) != 24 {
		t.Fatalf("expected 24 hour rows")
	}
}

func TestPages(t *testing.T) {
	var buf bytes.Buffer
	if err := RegisterPage("tok'en").Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(buf.String(), `tok\&#39;en`) {
		t.Fatalf("expected escaped token in page:\n%s", buf.String())
	}

	buf.Reset()
	if err := RegisterPage("").Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(buf.String(), "Invalid invite link.") {
		t.Fatal("expected invalid invite notice")
	}
}

func TestPages_RenderThroughLayout(t *testing.T) {
	tests := []struct {
		name string
		page templ.Component
		want []string
	}{
		{"login", LoginPage(), []string{"<!doctype html>", "<title>Sign in</title>", `data-bind:email>`, "localStorage.setItem('session'"}},
		{"calendar", CalendarPage(), []string{"<title>Calendar</title>", `<div id="notice"></div>`, `<div id="grid" data-init=`, "&larr; Previous"}},
		{"register", RegisterPage("abc"), []string{"<title>Register via invite</title>", "<h1>Register via Invite</h1><input"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tt.page.Render(context.Background(), &buf); err != nil {
				t.Fatalf("Render error: %v", err)
			}
			out := buf.String()
			if !strings.HasSuffix(out, "</main></body></html>") {
				t.Fatalf("page not wrapped in layout:\n%s", out)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Fatalf("expected %q in page:\n%s", want, out)
				}
			}
		})
	}
}

func TestWeekGrid_EscapesAttributes(t *testing.T) {
	g := calendar.DefaultGeometry()
	w := calendar.NewWeekWindow(calendar.MustParseDate("2024-03-04"), time.Monday)
	layout := calendar.Place([]calendar.Event{
		{ID: `x" onclick="alert(1)`, Title: "Plan", StartDate: "2024-03-04", StartTime: "10:00", DurationHours: 1, Status: calendar.StatusDone},
	}, w, g)

	var buf bytes.Buffer
	err := WeekGrid(GridData{ScopeKey: `company:"c1"`, Layout: layout, Geometry: g}).Render(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`data-scope="company:&#34;c1&#34;"`,
		`data-event-id="x&#34; onclick=&#34;alert(1)"`,
		`class="event status-done"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in grid:\n%s", want, out)
		}
	}
	if strings.Contains(out, `onclick="alert`) {
		t.Fatalf("event id broke out of its attribute:\n%s", out)
	}
}

func TestNotice_EscapesMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := Notice("info", "<b>moved</b>").Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render error: %v", err)
	}
	got := buf.String()
	if !strings.HasPrefix(got, `<div id="notice" class="notice info"`) || !strings.Contains(got, "&lt;b&gt;moved&lt;/b&gt;") {
		t.Fatalf("unexpected notice: %s", got)
	}
}

func TestStaticHandler(t *testing.T) {
	tests := []struct {
		path     string
		wantCode int
	}{
		{"/styles.css", http.StatusOK},
		{"/", http.StatusNotFound},
		{"/missing.css", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		StaticHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.wantCode {
			t.Fatalf("GET %s: got %d, want %d", tt.path, rec.Code, tt.wantCode)
		}
	}

	rec := httptest.NewRecorder()
	StaticHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/styles.css", nil))
	if !strings.Contains(rec.Body.String(), ".week-grid") {
		t.Fatal("expected grid stylesheet")
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=300" {
		t.Fatalf("unexpected Cache-Control %q", got)
	}
}
