package calendarapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dragcal/project/internal/app/eventstore"
	"github.com/dragcal/project/internal/app/identity"
	"github.com/dragcal/project/internal/app/workspace"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/config"
	"github.com/dragcal/project/internal/logging"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	store, err := eventstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "calendar.db"), logging.Discard())
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	repo := identity.NewSQLiteRepository(store.DB())
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	svc := identity.NewService(repo, identity.NewTokenManager("test-secret", time.Hour))
	registry := workspace.NewRegistry(store, nil, logging.Discard())
	t.Cleanup(registry.Close)

	h := NewHandler(svc, registry, config.DefaultGrid(), "*", logging.Discard())
	h.Location = time.UTC
	h.Now = func() time.Time { return time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC) }

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func signUp(t *testing.T, srv *httptest.Server, email string) identity.AuthResponse {
	t.Helper()
	status, body := doJSON(t, srv, http.MethodPost, "/api/v1/auth/sign-up", "", credentialsRequest{Email: email, Password: "password123"})
	if status != http.StatusCreated {
		t.Fatalf("sign-up status %d: %s", status, body)
	}
	var resp identity.AuthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode sign-up: %v", err)
	}
	return resp
}

func createEvent(t *testing.T, srv *httptest.Server, token, scope string, draft map[string]any) calendar.Event {
	t.Helper()
	status, body := doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/events", token, draft)
	if status != http.StatusCreated {
		t.Fatalf("create status %d: %s", status, body)
	}
	var e calendar.Event
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return e
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t)
	alice := signUp(t, srv, "alice@example.com")
	if alice.AccessToken == "" || alice.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", alice)
	}

	status, _ := doJSON(t, srv, http.MethodPost, "/api/v1/auth/sign-up", "", credentialsRequest{Email: "ALICE@example.com", Password: "password123"})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", status)
	}
	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/auth/sign-in", "", credentialsRequest{Email: "alice@example.com", Password: "wrong-password"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", status)
	}
	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/auth/sign-up", "", credentialsRequest{Email: "nobody", Password: "password123"})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid email, got %d", status)
	}

	status, body := doJSON(t, srv, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: alice.RefreshToken})
	if status != http.StatusOK {
		t.Fatalf("refresh status %d: %s", status, body)
	}
	var refreshed identity.AuthResponse
	if err := json.Unmarshal(body, &refreshed); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}

	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/auth/sign-out", refreshed.AccessToken, refreshRequest{RefreshToken: refreshed.RefreshToken})
	if status != http.StatusNoContent {
		t.Fatalf("expected 204 on sign-out, got %d", status)
	}
	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: refreshed.RefreshToken})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked refresh token, got %d", status)
	}
}

func TestCalendar_AuthAndScopeAccess(t *testing.T) {
	srv := newTestServer(t)
	alice := signUp(t, srv, "alice@example.com")
	bob := signUp(t, srv, "bob@example.com")

	tests := []struct {
		name   string
		token  string
		scope  string
		status int
	}{
		{name: "missing token", token: "", scope: "owner:" + alice.UserID, status: http.StatusUnauthorized},
		{name: "garbage token", token: "not-a-token", scope: "owner:" + alice.UserID, status: http.StatusUnauthorized},
		{name: "malformed scope", token: alice.AccessToken, scope: "team", status: http.StatusBadRequest},
		{name: "someone else's calendar", token: bob.AccessToken, scope: "owner:" + alice.UserID, status: http.StatusForbidden},
		{name: "company without membership", token: alice.AccessToken, scope: "company:acme", status: http.StatusForbidden},
		{name: "own calendar", token: alice.AccessToken, scope: "owner:" + alice.UserID, status: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := doJSON(t, srv, http.MethodGet, "/api/v1/calendars/"+tc.scope+"/week", tc.token, nil)
			if status != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, status, body)
			}
		})
	}
}

func TestCalendar_CreateAndPlace(t *testing.T) {
	srv := newTestServer(t)
	alice := signUp(t, srv, "alice@example.com")
	scope := "owner:" + alice.UserID

	status, body := doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/events", alice.AccessToken, map[string]any{
		"title": "Broken", "start_date": "2024-03-04", "start_time": "25:00",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", status, body)
	}
	var verr struct {
		FieldErrors map[string]string `json:"field_errors"`
	}
	if err := json.Unmarshal(body, &verr); err != nil || verr.FieldErrors["start_time"] == "" {
		t.Fatalf("expected start_time field error, got %s", body)
	}

	standup := createEvent(t, srv, alice.AccessToken, scope, map[string]any{
		"title": "Standup", "start_date": "2024-03-04", "start_time": "09:00", "duration_hours": 1,
	})
	if standup.ID == "" || standup.OwnerID != alice.UserID {
		t.Fatalf("unexpected created event %+v", standup)
	}
	createEvent(t, srv, alice.AccessToken, scope, map[string]any{
		"title": "Review", "start_date": "2024-03-04", "start_time": "09:30",
	})

	status, body = doJSON(t, srv, http.MethodGet, "/api/v1/calendars/"+scope+"/week?week=2024-03-06", alice.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("week status %d: %s", status, body)
	}
	var week weekResponse
	if err := json.Unmarshal(body, &week); err != nil {
		t.Fatalf("decode week: %v", err)
	}
	if week.Week != "2024-03-04" || len(week.Days) != 7 {
		t.Fatalf("unexpected week %s with %d days", week.Week, len(week.Days))
	}
	monday := week.Days[0].Events
	if len(monday) != 2 {
		t.Fatalf("expected two Monday events, got %d", len(monday))
	}
	first := monday[0]
	if first.ID != standup.ID || first.Top != 580 || first.Height != 56 || first.LaneCount != 2 || first.Width != 70 {
		t.Fatalf("unexpected placement %+v", first)
	}

	title := "Daily standup"
	status, body = doJSON(t, srv, http.MethodPatch, "/api/v1/calendars/"+scope+"/events/"+standup.ID, alice.AccessToken, calendar.Patch{Title: &title})
	if status != http.StatusOK {
		t.Fatalf("patch status %d: %s", status, body)
	}
	status, _ = doJSON(t, srv, http.MethodPatch, "/api/v1/calendars/"+scope+"/events/missing", alice.AccessToken, calendar.Patch{Title: &title})
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown event, got %d", status)
	}
}

func TestCalendar_GesturesNeedMountedView(t *testing.T) {
	srv := newTestServer(t)
	alice := signUp(t, srv, "alice@example.com")
	scope := "owner:" + alice.UserID

	status, _ := doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/navigate", alice.AccessToken, navigateRequest{Delta: 1})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 without a mounted view, got %d", status)
	}
	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/drag/start", alice.AccessToken, dragStartRequest{EventID: "x"})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 without a mounted view, got %d", status)
	}
}

// streamReader reads datastar element patches from an open stream.
type streamReader struct {
	r *bufio.Reader
}

func (s streamReader) next(t *testing.T) string {
	t.Helper()
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if rest, ok := strings.CutPrefix(line, "data: elements "); ok {
			return strings.TrimSpace(rest)
		}
	}
}

// waitFor reads patches until one satisfies ok.
func (s streamReader) waitFor(t *testing.T, ok func(string) bool) string {
	t.Helper()
	for {
		if html := s.next(t); ok(html) {
			return html
		}
	}
}

// columnOf returns the day column holding event id in rendered grid html.
func columnOf(html, id string) string {
	idx := strings.Index(html, `data-event-id="`+id+`"`)
	if idx < 0 {
		return ""
	}
	start := strings.LastIndex(html[:idx], `data-date="`)
	if start < 0 {
		return ""
	}
	start += len(`data-date="`)
	return html[start : start+len("2006-01-02")]
}

func openStream(t *testing.T, srv *httptest.Server, token, scope string) streamReader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/calendars/"+scope+"/stream?token="+token, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	return streamReader{r: bufio.NewReader(resp.Body)}
}

func TestStream_DragReschedulesEvent(t *testing.T) {
	srv := newTestServer(t)
	alice := signUp(t, srv, "alice@example.com")
	scope := "owner:" + alice.UserID
	standup := createEvent(t, srv, alice.AccessToken, scope, map[string]any{
		"title": "Standup", "start_date": "2024-03-04", "start_time": "09:00", "duration_hours": 1,
	})

	stream := openStream(t, srv, alice.AccessToken, scope)
	first := stream.next(t)
	if !strings.Contains(first, `id="grid"`) || columnOf(first, standup.ID) != "2024-03-04" {
		t.Fatalf("unexpected initial grid: %s", first)
	}

	status, body := doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/drag/start", alice.AccessToken, dragStartRequest{EventID: standup.ID})
	if status != http.StatusOK {
		t.Fatalf("drag start status %d: %s", status, body)
	}
	stream.waitFor(t, func(html string) bool { return strings.Contains(html, `class="event dragging"`) })

	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/drag/start", alice.AccessToken, dragStartRequest{EventID: standup.ID})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for a second gesture, got %d", status)
	}

	status, body = doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/drag/drop", alice.AccessToken, dragDropRequest{Date: "2024-03-06"})
	if status != http.StatusOK {
		t.Fatalf("drop status %d: %s", status, body)
	}
	var res dragResponse
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode drop: %v", err)
	}
	if res.Outcome != "moved" || res.To != "2024-03-06" || res.Event == nil || res.Event.StartTime != "09:00" {
		t.Fatalf("unexpected drop result %+v", res)
	}
	stream.waitFor(t, func(html string) bool { return columnOf(html, standup.ID) == "2024-03-06" })

	// Past the last column the gesture is cancelled without a write.
	doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/drag/start", alice.AccessToken, dragStartRequest{EventID: standup.ID})
	x := 10_000.0
	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/drag/drop", alice.AccessToken, dragDropRequest{X: &x})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for a drop outside the grid, got %d", status)
	}

	status, body = doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/navigate", alice.AccessToken, navigateRequest{Delta: 1})
	if status != http.StatusOK || !strings.Contains(string(body), "2024-03-11") {
		t.Fatalf("unexpected navigate response %d: %s", status, body)
	}
	stream.waitFor(t, func(html string) bool { return strings.Contains(html, `data-week="2024-03-11"`) })

	status, body = doJSON(t, srv, http.MethodGet, "/api/v1/calendars/"+scope+"/export.ics?week=2024-03-04", alice.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("export status %d: %s", status, body)
	}
	if !strings.Contains(string(body), "SUMMARY:Standup") || !strings.Contains(string(body), "DTSTART:20240306T090000") {
		t.Fatalf("unexpected export:\n%s", body)
	}
}

func TestStream_NewerStreamReplacesOlder(t *testing.T) {
	srv := newTestServer(t)
	alice := signUp(t, srv, "alice@example.com")
	scope := "owner:" + alice.UserID

	first := openStream(t, srv, alice.AccessToken, scope)
	first.next(t)
	second := openStream(t, srv, alice.AccessToken, scope)
	if html := second.next(t); !strings.Contains(html, `id="grid"`) {
		t.Fatalf("unexpected grid on second stream: %s", html)
	}
	notice := first.waitFor(t, func(html string) bool { return strings.Contains(html, `id="notice"`) })
	if !strings.Contains(notice, "opened in another window") {
		t.Fatalf("unexpected notice: %s", notice)
	}
}

func TestCalendar_UpdateRejectsEventOfAnotherScope(t *testing.T) {
	srv := newTestServer(t)
	alice := signUp(t, srv, "alice@example.com")
	mallory := signUp(t, srv, "mallory@example.com")
	aliceScope := "owner:" + alice.UserID
	standup := createEvent(t, srv, alice.AccessToken, aliceScope, map[string]any{
		"title": "Standup", "start_date": "2024-03-04", "start_time": "09:00",
	})

	for _, patch := range []map[string]any{
		{"title": "renamed"},
		{"status": "done"},
		{"start_date": "2024-03-05"},
	} {
		status, body := doJSON(t, srv, http.MethodPatch, "/api/v1/calendars/owner:"+mallory.UserID+"/events/"+standup.ID, mallory.AccessToken, patch)
		if status != http.StatusNotFound {
			t.Fatalf("patch %v: expected 404, got %d: %s", patch, status, body)
		}
	}

	status, body := doJSON(t, srv, http.MethodGet, "/api/v1/calendars/"+aliceScope+"/week?week=2024-03-04", alice.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("week status %d: %s", status, body)
	}
	var week weekResponse
	if err := json.Unmarshal(body, &week); err != nil {
		t.Fatalf("decode week: %v", err)
	}
	if len(week.Days[0].Events) != 1 || week.Days[0].Events[0].Title != "Standup" {
		t.Fatalf("expected the standup untouched on Monday, got %+v", week.Days[0])
	}
}

func TestStream_DropOffTheVisibleWeekIsRejected(t *testing.T) {
	srv := newTestServer(t)
	alice := signUp(t, srv, "alice@example.com")
	scope := "owner:" + alice.UserID
	standup := createEvent(t, srv, alice.AccessToken, scope, map[string]any{
		"title": "Standup", "start_date": "2024-03-04", "start_time": "09:00",
	})
	stream := openStream(t, srv, alice.AccessToken, scope)
	stream.next(t)

	for _, date := range []string{"2031-12-25", "2024-03-11", "2024-03-03", "not-a-date"} {
		status, body := doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/drag/start", alice.AccessToken, dragStartRequest{EventID: standup.ID})
		if status != http.StatusOK {
			t.Fatalf("drag start status %d: %s", status, body)
		}
		status, body = doJSON(t, srv, http.MethodPost, "/api/v1/calendars/"+scope+"/drag/drop", alice.AccessToken, dragDropRequest{Date: date})
		if status != http.StatusBadRequest {
			t.Fatalf("drop on %s: expected 400, got %d: %s", date, status, body)
		}
	}

	status, body := doJSON(t, srv, http.MethodGet, "/api/v1/calendars/"+scope+"/week?week=2024-03-04", alice.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("week status %d: %s", status, body)
	}
	var week weekResponse
	if err := json.Unmarshal(body, &week); err != nil {
		t.Fatalf("decode week: %v", err)
	}
	if len(week.Days[0].Events) != 1 || week.Days[0].Events[0].StartDate != "2024-03-04" {
		t.Fatalf("expected the standup still on Monday, got %+v", week.Days[0])
	}
}

func TestCompanyInviteFlow(t *testing.T) {
	srv := newTestServer(t)
	owner := signUp(t, srv, "owner@example.com")

	status, body := doJSON(t, srv, http.MethodPost, "/api/v1/companies", owner.AccessToken, createCompanyRequest{Name: "Acme"})
	if status != http.StatusCreated {
		t.Fatalf("create company status %d: %s", status, body)
	}
	var company identity.Company
	if err := json.Unmarshal(body, &company); err != nil {
		t.Fatalf("decode company: %v", err)
	}

	status, body = doJSON(t, srv, http.MethodPost, "/api/v1/companies/"+company.ID+"/invites", owner.AccessToken, createInviteRequest{Email: "bob@example.com"})
	if status != http.StatusCreated {
		t.Fatalf("create invite status %d: %s", status, body)
	}
	var inv inviteResponse
	if err := json.Unmarshal(body, &inv); err != nil {
		t.Fatalf("decode invite: %v", err)
	}
	if inv.Role != identity.RoleMember || !strings.HasPrefix(inv.Link, "/register/") {
		t.Fatalf("unexpected invite %+v", inv)
	}

	status, _ = doJSON(t, srv, http.MethodGet, "/api/v1/invites/"+inv.Token, "", nil)
	if status != http.StatusOK {
		t.Fatalf("lookup status %d", status)
	}
	status, body = doJSON(t, srv, http.MethodPost, "/api/v1/invites/redeem", "", redeemInviteRequest{Token: inv.Token, Email: "eve@example.com", Password: "password123"})
	if status != http.StatusBadRequest || !strings.Contains(string(body), "Email does not match invite.") {
		t.Fatalf("expected email mismatch, got %d: %s", status, body)
	}
	status, body = doJSON(t, srv, http.MethodPost, "/api/v1/invites/redeem", "", redeemInviteRequest{Token: inv.Token, Email: "Bob@example.com", Password: "password123"})
	if status != http.StatusCreated {
		t.Fatalf("redeem status %d: %s", status, body)
	}
	var bob identity.AuthResponse
	if err := json.Unmarshal(body, &bob); err != nil {
		t.Fatalf("decode redeem: %v", err)
	}
	status, body = doJSON(t, srv, http.MethodPost, "/api/v1/invites/redeem", "", redeemInviteRequest{Token: inv.Token, Email: "bob@example.com", Password: "password123"})
	if status != http.StatusNotFound || !strings.Contains(string(body), "Invite not found or already used.") {
		t.Fatalf("expected used invite, got %d: %s", status, body)
	}

	scope := "company:" + company.ID
	createEvent(t, srv, owner.AccessToken, scope, map[string]any{
		"title": "Planning", "start_date": "2024-03-05", "start_time": "14:00", "assigned_to": bob.UserID,
	})
	status, body = doJSON(t, srv, http.MethodGet, "/api/v1/calendars/"+scope+"/week?week=2024-03-04", bob.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("member week status %d: %s", status, body)
	}
	var week weekResponse
	if err := json.Unmarshal(body, &week); err != nil {
		t.Fatalf("decode week: %v", err)
	}
	if len(week.Days[1].Events) != 1 || week.Days[1].Events[0].OwnerID != bob.UserID {
		t.Fatalf("expected the planning event on Tuesday, got %+v", week.Days[1])
	}

	// Members cannot invite.
	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/companies/"+company.ID+"/invites", bob.AccessToken, createInviteRequest{Email: "carol@example.com"})
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for member invite, got %d", status)
	}
}

func TestHealthMetricsAndPages(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/login", "/app", "/register/abc", "/static/styles.css"} {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}
