package calendarapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dragcal/project/internal/app/drag"
	"github.com/dragcal/project/internal/app/icsbridge"
	"github.com/dragcal/project/internal/app/workspace"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/logging"
	"github.com/go-chi/chi/v5"
)

type placedResponse struct {
	calendar.Event
	Top       float64 `json:"top"`
	Height    float64 `json:"height"`
	Left      float64 `json:"left"`
	Width     float64 `json:"width"`
	Lane      int     `json:"lane"`
	LaneCount int     `json:"lane_count"`
}

type dayResponse struct {
	Date   string           `json:"date"`
	Events []placedResponse `json:"events"`
}

type warningResponse struct {
	EventID   string `json:"event_id"`
	StartDate string `json:"start_date"`
	StartTime string `json:"start_time"`
	Reason    string `json:"reason"`
}

type weekResponse struct {
	Scope    string            `json:"scope"`
	Week     string            `json:"week"`
	Version  uint64            `json:"version"`
	Days     []dayResponse     `json:"days"`
	Warnings []warningResponse `json:"warnings,omitempty"`
}

type navigateRequest struct {
	Delta int    `json:"delta"`
	Today bool   `json:"today"`
	Date  string `json:"date"`
}

type dragStartRequest struct {
	EventID string `json:"event_id"`
}

// dragDropRequest names the target column by date, or by the horizontal
// grid coordinate of the release.
type dragDropRequest struct {
	Date string   `json:"date"`
	X    *float64 `json:"x"`
}

type dragResponse struct {
	Outcome    string          `json:"outcome"`
	EventID    string          `json:"event_id"`
	From       string          `json:"from,omitempty"`
	To         string          `json:"to,omitempty"`
	Event      *calendar.Event `json:"event,omitempty"`
	RolledBack bool            `json:"rolled_back,omitempty"`
}

func (h *Handler) viewOptions(reference calendar.Date) workspace.Options {
	return workspace.Options{
		Geometry:  h.Grid.Geometry,
		WeekStart: h.Grid.WeekStart,
		Reference: reference,
		Location:  h.Location,
		Now:       h.Now,
	}
}

func parseWeekParam(r *http.Request) (calendar.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("week"))
	if raw == "" {
		return calendar.Date{}, nil
	}
	d, err := calendar.ParseDate(raw)
	if err != nil {
		return calendar.Date{}, fmt.Errorf("week: %w", err)
	}
	return d, nil
}

// frameFor returns the frame of the caller's mounted view, or of a
// short-lived view when nothing is mounted or another week is asked for.
func (h *Handler) frameFor(ctx context.Context, userID string, scope calendar.Scope, week calendar.Date) (workspace.Frame, error) {
	if v, ok := h.Mounts.Get(mountKey(userID, scope)); ok && (week.IsZero() || v.Window().Contains(week)) {
		return v.Frame(), nil
	}
	v, err := h.Workspace.OpenView(ctx, scope, h.viewOptions(week))
	if err != nil {
		return workspace.Frame{}, err
	}
	defer v.Close()
	return v.Frame(), nil
}

func (h *Handler) mountedView(r *http.Request) (*workspace.View, error) {
	claims := claimsFromContext(r.Context())
	v, ok := h.Mounts.Get(mountKey(claims.Subject, scopeFromContext(r.Context())))
	if !ok {
		return nil, errViewNotMounted
	}
	return v, nil
}

func (h *Handler) handleWeek(w http.ResponseWriter, r *http.Request) {
	week, err := parseWeekParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scope := scopeFromContext(r.Context())
	frame, err := h.frameFor(r.Context(), claimsFromContext(r.Context()).Subject, scope, week)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, weekBody(scope, frame, h.Grid.Geometry))
}

func weekBody(scope calendar.Scope, frame workspace.Frame, g calendar.Geometry) weekResponse {
	resp := weekResponse{
		Scope:   scope.Key(),
		Week:    frame.Window.Start().String(),
		Version: frame.Version,
		Days:    make([]dayResponse, 0, calendar.DaysPerWeek),
	}
	for i, col := range frame.Layout.Columns {
		day := dayResponse{Date: col.Date.String(), Events: make([]placedResponse, 0, len(col.Events))}
		for _, p := range col.Events {
			left, width := g.LaneBox(i, p)
			day.Events = append(day.Events, placedResponse{
				Event:     p.Event,
				Top:       p.Top,
				Height:    p.Height,
				Left:      left,
				Width:     width,
				Lane:      p.Lane,
				LaneCount: p.LaneCount,
			})
		}
		resp.Days = append(resp.Days, day)
	}
	for _, warn := range frame.Layout.Warnings {
		resp.Warnings = append(resp.Warnings, warningResponse{
			EventID:   warn.EventID,
			StartDate: warn.StartDate,
			StartTime: warn.StartTime,
			Reason:    warn.Reason,
		})
	}
	return resp
}

// withStore runs fn against the shared schedule of the request scope.
func (h *Handler) withStore(r *http.Request, fn func(v *workspace.View) error) error {
	claims := claimsFromContext(r.Context())
	scope := scopeFromContext(r.Context())
	if v, ok := h.Mounts.Get(mountKey(claims.Subject, scope)); ok {
		return fn(v)
	}
	v, err := h.Workspace.OpenView(r.Context(), scope, h.viewOptions(calendar.Date{}))
	if err != nil {
		return err
	}
	defer v.Close()
	return fn(v)
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var draft calendar.Draft
	if !h.decode(w, r, &draft) {
		return
	}
	var created calendar.Event
	err := h.withStore(r, func(v *workspace.View) error {
		var err error
		created, err = v.Store().Create(r.Context(), draft)
		return err
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var patch calendar.Patch
	if !h.decode(w, r, &patch) {
		return
	}
	id := chi.URLParam(r, "eventID")
	var updated calendar.Event
	err := h.withStore(r, func(v *workspace.View) error {
		var err error
		updated, err = v.Store().Update(r.Context(), id, patch)
		return err
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.mountedView(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var window calendar.WeekWindow
	switch {
	case req.Today:
		window = v.Today()
	case strings.TrimSpace(req.Date) != "":
		d, err := calendar.ParseDate(req.Date)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		window = v.GoTo(d)
	default:
		window = v.Navigate(req.Delta)
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"week": window.Start().String()})
}

func (h *Handler) handleDragStart(w http.ResponseWriter, r *http.Request) {
	var req dragStartRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.mountedView(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	g, err := v.Drag().Begin(req.EventID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	v.Refresh()
	h.writeJSON(w, http.StatusOK, map[string]string{"event_id": g.EventID, "origin_date": g.OriginDate, "origin_time": g.OriginTime})
}

func (h *Handler) handleDragDrop(w http.ResponseWriter, r *http.Request) {
	var req dragDropRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.mountedView(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var res drag.Result
	switch {
	case strings.TrimSpace(req.Date) != "":
		target, perr := calendar.ParseDate(req.Date)
		if perr != nil {
			// An unreadable target is a release outside every column.
			target = calendar.Date{}
		}
		res, err = v.Drag().Drop(r.Context(), v.Window(), target)
	case req.X != nil:
		res, err = v.Drag().DropAt(r.Context(), v.Window(), v.Geometry(), *req.X)
	default:
		res, err = v.Drag().Drop(r.Context(), v.Window(), calendar.Date{})
	}
	v.Refresh()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dragBody(res))
}

func (h *Handler) handleDragCancel(w http.ResponseWriter, r *http.Request) {
	v, err := h.mountedView(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res, err := v.Drag().Cancel()
	if err != nil {
		if errors.Is(err, drag.ErrNotDragging) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeDomainError(w, r, err)
		return
	}
	v.Refresh()
	h.writeJSON(w, http.StatusOK, dragBody(res))
}

func dragBody(res drag.Result) dragResponse {
	body := dragResponse{
		Outcome:    res.Outcome,
		EventID:    res.EventID,
		From:       res.From,
		To:         res.To,
		RolledBack: res.RolledBack,
	}
	if res.Event.ID != "" {
		e := res.Event
		body.Event = &e
	}
	return body
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	week, err := parseWeekParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scope := scopeFromContext(r.Context())

	var (
		window calendar.WeekWindow
		events []calendar.Event
	)
	err = h.withStore(r, func(v *workspace.View) error {
		window = v.Window()
		if !week.IsZero() {
			window = calendar.NewWeekWindow(week, h.Grid.WeekStart)
		}
		events = v.Store().Snapshot().Events
		return nil
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "week-"+window.Start().String()+".ics"))
	n, err := icsbridge.Export(w, window, events, icsbridge.ExportOptions{
		Name:     scope.Key(),
		Location: h.Location,
		Now:      h.Now(),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	logging.Component(r.Context(), h.Logger, "calendarapi", "export", "scope", scope.Key(), "week", window.String()).Debug("week exported", "events", n)
}
