package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit       key.Binding
	NextFocus  key.Binding
	Up         key.Binding
	Down       key.Binding
	Open       key.Binding
	Search     key.Binding
	AllUsers   key.Binding
	Back       key.Binding
	Reload     key.Binding
	DeleteLast key.Binding
	Logout     key.Binding
	PageUp     key.Binding
	PageDown   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:       key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
		NextFocus:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Open:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		Search:     key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		AllUsers:   key.NewBinding(key.WithKeys("ctrl+a"), key.WithHelp("ctrl+a", "all users")),
		Back:       key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Reload:     key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "reload")),
		DeleteLast: key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "delete last")),
		Logout:     key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "logout")),
		PageUp:     key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		PageDown:   key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdown", "scroll down")),
	}
}

// help returns the hint line for the focused pane.
func (k keyMap) help(f focus) []key.Binding {
	switch f {
	case focusCompose:
		return []key.Binding{k.Open, k.DeleteLast, k.Back, k.NextFocus, k.Quit}
	case focusSearch:
		return []key.Binding{k.Open, k.Back, k.Quit}
	default:
		return []key.Binding{k.Up, k.Down, k.Open, k.Search, k.AllUsers, k.Reload, k.Logout, k.Quit}
	}
}
