package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dragcal/project/internal/calendar"
)

// fieldSet is a column of text inputs with one focused at a time.
type fieldSet struct {
	labels []string
	inputs []textinput.Model
	focus  int
}

func (f *fieldSet) add(label, placeholder, value string, limit int) *textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.CharLimit = limit
	in.SetValue(value)
	f.labels = append(f.labels, label)
	f.inputs = append(f.inputs, in)
	return &f.inputs[len(f.inputs)-1]
}

func (f *fieldSet) focusCmd() tea.Cmd {
	for i := range f.inputs {
		f.inputs[i].Blur()
	}
	return f.inputs[f.focus].Focus()
}

func (f *fieldSet) next() tea.Cmd {
	f.focus = (f.focus + 1) % len(f.inputs)
	return f.focusCmd()
}

func (f *fieldSet) prev() tea.Cmd {
	f.focus = (f.focus + len(f.inputs) - 1) % len(f.inputs)
	return f.focusCmd()
}

func (f *fieldSet) onLast() bool {
	return f.focus == len(f.inputs)-1
}

func (f *fieldSet) update(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "tab", "down":
		return f.next()
	case "shift+tab", "up":
		return f.prev()
	}
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *fieldSet) value(i int) string {
	return strings.TrimSpace(f.inputs[i].Value())
}

func (f *fieldSet) view(st Styles) string {
	rows := make([]string, 0, len(f.inputs))
	for i, in := range f.inputs {
		label := st.Label.Render(fmt.Sprintf("%-9s", f.labels[i]))
		rows = append(rows, label+st.Input.Render(in.View()))
	}
	return strings.Join(rows, "\n")
}

type signInForm struct {
	fieldSet
}

func newSignInForm() signInForm {
	var f signInForm
	f.add("Email", "you@example.com", "", 254)
	pw := f.add("Password", "at least 8 characters", "", 128)
	pw.EchoMode = textinput.EchoPassword
	return f
}

func (f *signInForm) focus() tea.Cmd {
	return f.focusCmd()
}

func (f *signInForm) values() (email, password string) {
	return f.value(0), f.inputs[1].Value()
}

func (f *signInForm) view(st Styles) string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		st.Title.Render("Sign in"),
		"",
		f.fieldSet.view(st),
		"",
		st.TitleMuted.Render("enter sign in · ctrl+n create account · tab next field"),
	)
	return st.Form.Render(body)
}

// entryForm collects a new event.
type entryForm struct {
	fieldSet
	err string
}

const (
	fieldTitle = iota
	fieldDate
	fieldTime
	fieldDuration
)

func newEntryForm(day calendar.Date) entryForm {
	var f entryForm
	f.add("Title", "What", "", 200)
	f.add("Date", "YYYY-MM-DD", day.String(), 10)
	f.add("Start", "HH:MM", "09:00", 5)
	f.add("Hours", "1", "1", 6)
	return f
}

func (f *entryForm) focus() tea.Cmd {
	return f.focusCmd()
}

// draft builds the event draft. Field validation beyond number parsing is
// left to the store so errors read the same everywhere.
func (f *entryForm) draft() (calendar.Draft, error) {
	d := calendar.Draft{
		Title:     f.value(fieldTitle),
		StartDate: f.value(fieldDate),
		StartTime: f.value(fieldTime),
	}
	if raw := f.value(fieldDuration); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return calendar.Draft{}, &calendar.ValidationError{FieldErrors: map[string]string{
				"duration_hours": "duration must be a positive number of hours",
			}}
		}
		d.DurationHours = &hours
	}
	return d, nil
}

func (f *entryForm) view(st Styles) string {
	parts := []string{st.Title.Render("New event"), "", f.fieldSet.view(st)}
	if f.err != "" {
		parts = append(parts, "", st.Error.Render(f.err))
	}
	parts = append(parts, "", st.TitleMuted.Render("enter next/save · esc back"))
	return st.Form.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
