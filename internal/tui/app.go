// Package tui is the terminal week grid: sign-in, the placed week, keyboard
// drag-reschedule and manual entry over a local store.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dragcal/project/internal/app/drag"
	"github.com/dragcal/project/internal/app/identity"
	"github.com/dragcal/project/internal/app/workspace"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/logging"
)

type screen int

const (
	screenSignIn screen = iota
	screenGrid
	screenForm
)

const requestTimeout = 10 * time.Second

// Options configure the app.
type Options struct {
	Geometry  calendar.Geometry
	WeekStart time.Weekday
	Location  *time.Location
	Now       func() time.Time
	Logger    *slog.Logger
}

type (
	signedInMsg struct {
		session *identity.Session
		err     error
	}
	sessionChangedMsg struct{ session *identity.Session }
	viewOpenedMsg     struct {
		view *workspace.View
		err  error
	}
	frameMsg struct {
		src   <-chan workspace.Frame
		frame workspace.Frame
		ok    bool
	}
	dropMsg struct {
		res drag.Result
		err error
	}
	createdMsg struct {
		event calendar.Event
		err   error
	}
)

type App struct {
	sessions *identity.SessionHolder
	registry *workspace.Registry
	opts     Options
	logger   *slog.Logger
	styles   Styles
	keys     KeyMap
	help     help.Model
	viewport viewport.Model

	sessionCh   chan *identity.Session
	stopSession func()

	screen screen
	width  int
	height int
	signIn signInForm
	form   entryForm

	view       *workspace.View
	frames     <-chan workspace.Frame
	stopFrames func()
	frame      workspace.Frame
	selected   string
	target     int

	status    string
	statusErr bool
}

func NewApp(sessions *identity.SessionHolder, registry *workspace.Registry, opts Options) *App {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	a := &App{
		sessions:  sessions,
		registry:  registry,
		opts:      opts,
		logger:    opts.Logger,
		styles:    NewStyles(TokyoNight),
		keys:      DefaultKeyMap(),
		help:      help.New(),
		viewport:  viewport.New(80, 20),
		sessionCh: make(chan *identity.Session, 1),
		signIn:    newSignInForm(),
		target:    -1,
	}
	a.stopSession = sessions.OnSessionChange(func(s *identity.Session) {
		// Keep only the latest change for the UI loop.
		for {
			select {
			case a.sessionCh <- s:
				return
			default:
				select {
				case <-a.sessionCh:
				default:
				}
			}
		}
	})
	return a
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.signIn.focus(), waitSession(a.sessionCh))
}

// Close unmounts the view and stops listening for session changes.
func (a *App) Close() {
	a.closeView()
	if a.stopSession != nil {
		a.stopSession()
		a.stopSession = nil
	}
}

func waitSession(ch <-chan *identity.Session) tea.Cmd {
	return func() tea.Msg { return sessionChangedMsg{session: <-ch} }
}

func waitFrame(ch <-chan workspace.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-ch
		return frameMsg{src: ch, frame: f, ok: ok}
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-4, 3)
		a.help.Width = msg.Width
		a.syncViewport()
		return a, nil

	case signedInMsg:
		if msg.err != nil {
			a.setError(msg.err)
			return a, nil
		}
		a.setStatus("Signed in as " + msg.session.Email)
		return a, a.openViewCmd(msg.session.UserID)

	case sessionChangedMsg:
		if msg.session == nil && a.view != nil {
			a.closeView()
			a.screen = screenSignIn
			a.setStatus("Signed out")
		}
		return a, waitSession(a.sessionCh)

	case viewOpenedMsg:
		if msg.err != nil {
			a.setError(msg.err)
			return a, nil
		}
		return a, a.mount(msg.view)

	case frameMsg:
		if !msg.ok || msg.src != a.frames {
			return a, nil
		}
		a.frame = msg.frame
		a.ensureSelection()
		a.syncViewport()
		return a, waitFrame(a.frames)

	case dropMsg:
		a.target = -1
		a.refresh()
		switch {
		case errors.Is(msg.err, drag.ErrInvalidTarget):
			a.setStatus("Dropped outside the week; nothing moved")
		case msg.err != nil:
			a.setError(fmt.Errorf("could not move %s: %w", msg.res.EventID, msg.err))
		case msg.res.Outcome == drag.OutcomeUnchanged:
			a.setStatus("Dropped on the same day")
		default:
			a.setStatus(fmt.Sprintf("Moved to %s", msg.res.To))
		}
		return a, nil

	case createdMsg:
		if msg.err != nil {
			a.form.err = describe(msg.err)
			return a, nil
		}
		a.screen = screenGrid
		a.selected = msg.event.ID
		a.refresh()
		a.setStatus("Added " + msg.event.Title)
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			a.Close()
			return a, tea.Quit
		}
		switch a.screen {
		case screenSignIn:
			return a, a.updateSignIn(msg)
		case screenForm:
			return a, a.updateForm(msg)
		default:
			return a, a.updateGrid(msg)
		}
	}
	return a, nil
}

func (a *App) updateSignIn(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter":
		return a.signInCmd(false)
	case "ctrl+n":
		return a.signInCmd(true)
	}
	return a.signIn.update(msg)
}

func (a *App) signInCmd(create bool) tea.Cmd {
	email, password := a.signIn.values()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		var (
			s   *identity.Session
			err error
		)
		if create {
			s, err = a.sessions.SignUp(ctx, email, password)
		} else {
			s, err = a.sessions.SignIn(ctx, email, password)
		}
		return signedInMsg{session: s, err: err}
	}
}

func (a *App) openViewCmd(userID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		v, err := a.registry.OpenView(ctx, calendar.OwnerScope(userID), workspace.Options{
			Geometry:  a.opts.Geometry,
			WeekStart: a.opts.WeekStart,
			Location:  a.opts.Location,
			Now:       a.opts.Now,
		})
		return viewOpenedMsg{view: v, err: err}
	}
}

// mount makes v the displayed view and starts following its frames.
func (a *App) mount(v *workspace.View) tea.Cmd {
	a.closeView()
	a.view = v
	a.frames, a.stopFrames = v.Subscribe()
	a.screen = screenGrid
	a.refresh()
	logging.Component(context.Background(), a.logger, "tui", "mount", "scope", v.Scope().Key()).Info("view mounted")
	return waitFrame(a.frames)
}

func (a *App) closeView() {
	if a.stopFrames != nil {
		a.stopFrames()
		a.stopFrames = nil
	}
	if a.view != nil {
		a.view.Close()
		a.view = nil
	}
	a.frames = nil
	a.frame = workspace.Frame{}
	a.selected = ""
	a.target = -1
}

func (a *App) refresh() {
	if a.view == nil {
		return
	}
	a.frame = a.view.Frame()
	a.ensureSelection()
	a.syncViewport()
}

func (a *App) updateGrid(msg tea.KeyMsg) tea.Cmd {
	if a.view == nil {
		return nil
	}
	dragging := a.view.Drag().State() == drag.Dragging

	switch {
	case key.Matches(msg, a.keys.Quit):
		a.Close()
		return tea.Quit
	case key.Matches(msg, a.keys.Cancel):
		if dragging {
			_, _ = a.view.Drag().Cancel()
			a.target = -1
			a.refresh()
			a.setStatus("Drag cancelled")
		}
	case key.Matches(msg, a.keys.Grab):
		if dragging {
			return a.dropCmd()
		}
		if a.selected == "" {
			return nil
		}
		g, err := a.view.Drag().Begin(a.selected)
		if err != nil {
			a.setError(err)
			return nil
		}
		a.target = a.frame.Window.IndexOf(calendar.MustParseDate(g.OriginDate))
		a.refresh()
		a.setStatus("Moving " + g.EventID + ": ←/→ to choose a day, space to drop")
	case key.Matches(msg, a.keys.Left), key.Matches(msg, a.keys.Right):
		step := 1
		if key.Matches(msg, a.keys.Left) {
			step = -1
		}
		if dragging {
			// Stepping off either edge is a release outside the week.
			a.target = max(min(a.target+step, calendar.DaysPerWeek), -1)
			a.syncViewport()
			return nil
		}
		a.moveSelectionAcross(step)
	case key.Matches(msg, a.keys.Up):
		a.moveSelectionWithin(-1)
	case key.Matches(msg, a.keys.Down):
		a.moveSelectionWithin(1)
	case key.Matches(msg, a.keys.PrevWeek) && !dragging:
		a.view.Navigate(-1)
		a.refresh()
	case key.Matches(msg, a.keys.NextWeek) && !dragging:
		a.view.Navigate(1)
		a.refresh()
	case key.Matches(msg, a.keys.Today) && !dragging:
		a.view.Today()
		a.refresh()
	case key.Matches(msg, a.keys.Add) && !dragging:
		day := a.frame.Window.Start()
		if p, ok := a.frame.Layout.Find(a.selected); ok {
			day = p.Date
		}
		a.form = newEntryForm(day)
		a.screen = screenForm
		return a.form.focus()
	case key.Matches(msg, a.keys.SignOut):
		return a.signOutCmd()
	}
	return nil
}

func (a *App) dropCmd() tea.Cmd {
	v := a.view
	target := a.target
	window := a.frame.Window
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		var day calendar.Date
		if target >= 0 && target < calendar.DaysPerWeek {
			day = window.Days[target]
		}
		res, err := v.Drag().Drop(ctx, window, day)
		return dropMsg{res: res, err: err}
	}
}

func (a *App) signOutCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := a.sessions.SignOut(ctx); err != nil {
			logging.Component(ctx, a.logger, "tui", "sign-out").Warn("revoke failed", "error", err)
		}
		return nil
	}
}

func (a *App) updateForm(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		a.screen = screenGrid
		return nil
	case "enter":
		if !a.form.onLast() {
			return a.form.next()
		}
		draft, err := a.form.draft()
		if err != nil {
			a.form.err = describe(err)
			return nil
		}
		store := a.view.Store()
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			e, err := store.Create(ctx, draft)
			return createdMsg{event: e, err: err}
		}
	}
	return a.form.update(msg)
}

// placedOrder lists the placed events column by column, top to bottom.
func (a *App) placedOrder() [][]calendar.PlacedEvent {
	layout := a.frame.Layout
	cols := make([][]calendar.PlacedEvent, 0, calendar.DaysPerWeek)
	for _, day := range layout.Window.Days {
		cols = append(cols, layout.Day(day))
	}
	return cols
}

func (a *App) position(id string) (col, idx int) {
	for c, events := range a.placedOrder() {
		for i, p := range events {
			if p.Event.ID == id {
				return c, i
			}
		}
	}
	return -1, -1
}

func (a *App) ensureSelection() {
	if c, _ := a.position(a.selected); c >= 0 {
		return
	}
	a.selected = ""
	for _, events := range a.placedOrder() {
		if len(events) > 0 {
			a.selected = events[0].Event.ID
			return
		}
	}
}

func (a *App) moveSelectionWithin(step int) {
	c, i := a.position(a.selected)
	if c < 0 {
		return
	}
	events := a.placedOrder()[c]
	if j := i + step; j >= 0 && j < len(events) {
		a.selected = events[j].Event.ID
		a.syncViewport()
	}
}

// moveSelectionAcross selects the event nearest in start time in the next
// non-empty column in direction step.
func (a *App) moveSelectionAcross(step int) {
	c, i := a.position(a.selected)
	if c < 0 {
		return
	}
	cols := a.placedOrder()
	top := cols[c][i].Top
	for n := c + step; n >= 0 && n < len(cols); n += step {
		if len(cols[n]) == 0 {
			continue
		}
		best := cols[n][0]
		for _, p := range cols[n] {
			if abs(p.Top-top) < abs(best.Top-top) {
				best = p
			}
		}
		a.selected = best.Event.ID
		a.syncViewport()
		return
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (a *App) gridView() gridView {
	gv := gridView{
		Layout:   a.frame.Layout,
		Geometry: a.opts.Geometry,
		Today:    calendar.Today(a.opts.Now(), a.opts.Location),
		Selected: a.selected,
		Target:   -1,
	}
	if a.view != nil {
		if g, ok := a.view.Drag().Active(); ok {
			gv.Dragging = g.EventID
			gv.Target = a.target
		}
	}
	return gv
}

func (a *App) syncViewport() {
	if a.view == nil {
		return
	}
	a.viewport.SetContent(drawGrid(a.gridView()).render(a.styles))
	if p, ok := a.frame.Layout.Find(a.selected); ok {
		top := int(p.Top)
		if top < a.viewport.YOffset || top >= a.viewport.YOffset+a.viewport.Height {
			a.viewport.SetYOffset(max(top-2, 0))
		}
	}
}

func (a *App) setStatus(s string) {
	a.status, a.statusErr = s, false
}

func (a *App) setError(err error) {
	a.status, a.statusErr = describe(err), true
	logging.Component(context.Background(), a.logger, "tui", "status").Debug("error shown", "error", err)
}

// describe renders validation errors field by field.
func describe(err error) string {
	var verr *calendar.ValidationError
	if errors.As(err, &verr) && verr.HasErrors() {
		fields := make([]string, 0, len(verr.FieldErrors))
		for field := range verr.FieldErrors {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, verr.FieldErrors[f])
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}

func (a *App) View() string {
	switch a.screen {
	case screenSignIn:
		return lipgloss.JoinVertical(lipgloss.Left, a.signIn.view(a.styles), a.statusLine())
	case screenForm:
		return lipgloss.JoinVertical(lipgloss.Left, a.form.view(a.styles), a.statusLine())
	}

	title := a.styles.Title.Render("Week of " + a.frame.Window.Start().Time().Format("Mon 2 Jan 2006"))
	if s := a.sessions.GetSession(); s != nil {
		title += " " + a.styles.TitleMuted.Render(s.Email)
	}
	parts := []string{title, a.viewport.View()}
	if n := len(a.frame.Layout.Warnings); n > 0 {
		parts = append(parts, a.styles.Warning.Render(fmt.Sprintf("%d event(s) could not be placed", n)))
	}
	parts = append(parts, a.statusLine(), a.help.View(a.keys))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a *App) statusLine() string {
	if a.status == "" {
		return ""
	}
	if a.statusErr {
		return a.styles.Error.Render(a.status)
	}
	return a.styles.Status.Render(a.status)
}
