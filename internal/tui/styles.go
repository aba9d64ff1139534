package tui

import "github.com/charmbracelet/lipgloss"

// Theme is the colour scheme of the terminal grid.
type Theme struct {
	Foreground    lipgloss.Color
	ForegroundDim lipgloss.Color
	Primary       lipgloss.Color
	Accent        lipgloss.Color
	Warning       lipgloss.Color
	Error         lipgloss.Color
	Border        lipgloss.Color
	Selection     lipgloss.Color
	Block         lipgloss.Color
	Ghost         lipgloss.Color
}

var TokyoNight = Theme{
	Foreground:    lipgloss.Color("#c0caf5"),
	ForegroundDim: lipgloss.Color("#565f89"),
	Primary:       lipgloss.Color("#7aa2f7"),
	Accent:        lipgloss.Color("#7dcfff"),
	Warning:       lipgloss.Color("#e0af68"),
	Error:         lipgloss.Color("#f7768e"),
	Border:        lipgloss.Color("#3b4261"),
	Selection:     lipgloss.Color("#33467c"),
	Block:         lipgloss.Color("#24283b"),
	Ghost:         lipgloss.Color("#414868"),
}

// Styles are the pre-computed styles of every grid cell kind and the
// surrounding chrome.
type Styles struct {
	Title      lipgloss.Style
	TitleMuted lipgloss.Style
	Label      lipgloss.Style
	Rule       lipgloss.Style
	Header     lipgloss.Style
	Today      lipgloss.Style
	Event      lipgloss.Style
	Selected   lipgloss.Style
	Dragging   lipgloss.Style
	Ghost      lipgloss.Style
	Input      lipgloss.Style
	Form       lipgloss.Style
	Status     lipgloss.Style
	Error      lipgloss.Style
	Warning    lipgloss.Style
}

func NewStyles(t Theme) Styles {
	return Styles{
		Title:      lipgloss.NewStyle().Foreground(t.Primary).Bold(true),
		TitleMuted: lipgloss.NewStyle().Foreground(t.ForegroundDim),
		Label:      lipgloss.NewStyle().Foreground(t.ForegroundDim),
		Rule:       lipgloss.NewStyle().Foreground(t.Border),
		Header:     lipgloss.NewStyle().Foreground(t.Foreground).Bold(true),
		Today:      lipgloss.NewStyle().Foreground(t.Accent).Bold(true).Underline(true),
		Event:      lipgloss.NewStyle().Foreground(t.Foreground).Background(t.Block),
		Selected:   lipgloss.NewStyle().Foreground(t.Primary).Background(t.Selection).Bold(true),
		Dragging:   lipgloss.NewStyle().Foreground(t.ForegroundDim).Background(t.Block).Faint(true),
		Ghost:      lipgloss.NewStyle().Foreground(t.Accent).Background(t.Ghost).Bold(true),
		Input:      lipgloss.NewStyle().Foreground(t.Foreground).Padding(0, 1),
		Form: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Border).
			Padding(1, 2),
		Status:  lipgloss.NewStyle().Foreground(t.ForegroundDim).Padding(0, 1),
		Error:   lipgloss.NewStyle().Foreground(t.Error).Padding(0, 1),
		Warning: lipgloss.NewStyle().Foreground(t.Warning).Padding(0, 1),
	}
}
