package calendarapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/dragcal/project/internal/app/workspace"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/logging"
	"github.com/dragcal/project/services/frontend"
)

// handleStream mounts the caller's view of the scope for as long as the
// connection lives and pushes the re-rendered grid after every change. A
// second stream from the same client for the same scope replaces the first.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	week, err := parseWeekParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	claims := claimsFromContext(r.Context())
	scope := scopeFromContext(r.Context())
	logger := logging.Component(r.Context(), h.Logger, "calendarapi", "stream", "user_id", claims.Subject, "scope", scope.Key())

	view, err := h.Workspace.OpenView(r.Context(), scope, h.viewOptions(week))
	if err != nil {
		logger.Error("open view failed", "error", err)
		http.Error(w, "calendar unavailable", http.StatusBadGateway)
		return
	}
	key := mountKey(claims.Subject, scope)
	h.Mounts.Replace(key, view)
	defer h.Mounts.Release(key, view)

	frames, unsubscribe := view.Subscribe()
	defer unsubscribe()

	sendPatch := func(selector, mode, content string) {
		content = strings.ReplaceAll(content, "\n", "")
		fmt.Fprint(w, "event: datastar-patch-elements\n")
		fmt.Fprintf(w, "data: selector %s\n", selector)
		fmt.Fprintf(w, "data: mode %s\n", mode)
		fmt.Fprintf(w, "data: elements %s\n\n", content)
		flusher.Flush()
	}
	sendComponent := func(selector string, c templ.Component) bool {
		var buf bytes.Buffer
		if err := c.Render(r.Context(), &buf); err != nil {
			logger.Error("render failed", "error", err)
			return false
		}
		sendPatch(selector, "outer", buf.String())
		return true
	}

	logger.Info("view mounted", "week", view.Window().String())
	if !sendComponent("#grid", h.gridComponent(scope, view, view.Frame())) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				// Replaced by a newer stream of the same client, or shut down.
				logger.Info("view unmounted")
				sendComponent("#notice", frontend.Notice("info", "This calendar was opened in another window."))
				return
			}
			if !sendComponent("#grid", h.gridComponent(scope, view, frame)) {
				return
			}
		}
	}
}

func (h *Handler) gridComponent(scope calendar.Scope, view *workspace.View, frame workspace.Frame) templ.Component {
	data := frontend.GridData{
		ScopeKey: scope.Key(),
		Layout:   frame.Layout,
		Geometry: view.Geometry(),
		Today:    calendar.Today(h.Now(), h.Location),
	}
	if g, ok := view.Drag().Active(); ok {
		data.Dragging = g.EventID
	}
	return frontend.WeekGrid(data)
}
