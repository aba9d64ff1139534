package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the grid bindings.
type KeyMap struct {
	Left     key.Binding
	Right    key.Binding
	Up       key.Binding
	Down     key.Binding
	PrevWeek key.Binding
	NextWeek key.Binding
	Today    key.Binding
	Grab     key.Binding
	Cancel   key.Binding
	Add      key.Binding
	SignOut  key.Binding
	Quit     key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Left:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "prev day")),
		Right:    key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next day")),
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "prev event")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next event")),
		PrevWeek: key.NewBinding(key.WithKeys("[", "p"), key.WithHelp("[", "prev week")),
		NextWeek: key.NewBinding(key.WithKeys("]", "n"), key.WithHelp("]", "next week")),
		Today:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "today")),
		Grab:     key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("space", "pick up/drop")),
		Cancel:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel drag")),
		Add:      key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add event")),
		SignOut:  key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "sign out")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Left, k.Right, k.Grab, k.Cancel, k.PrevWeek, k.NextWeek, k.Add, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Left, k.Right, k.Up, k.Down},
		{k.Grab, k.Cancel, k.Add},
		{k.PrevWeek, k.NextWeek, k.Today},
		{k.SignOut, k.Quit},
	}
}
