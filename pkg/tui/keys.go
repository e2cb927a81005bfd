package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
	Toggle  key.Binding
	Up      key.Binding
	Down    key.Binding
	Reply   key.Binding
	Default key.Binding
	Pick    key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
		Refresh: key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "refresh")),
		Toggle:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "auto-refresh")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Reply:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "reply")),
		Default: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "default")),
		Pick:    key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("1-9", "pick")),
	}
}

// bindings lists what the help line shows; reply keys only matter while a
// request is pending.
func (k keyMap) bindings(pending bool) []key.Binding {
	if pending {
		return []key.Binding{k.Up, k.Down, k.Reply, k.Pick, k.Default, k.Refresh, k.Quit}
	}
	return []key.Binding{k.Refresh, k.Toggle, k.Quit}
}
