package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Open    key.Binding
	Back    key.Binding
	Prev    key.Binding
	Next    key.Binding
	Cancel  key.Binding
	Delete  key.Binding
	Execute key.Binding
	Output  key.Binding
	Refresh key.Binding
	Confirm key.Binding
	Deny    key.Binding
	Quit    key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Open:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "view")),
		Back:    key.NewBinding(key.WithKeys("esc", "q"), key.WithHelp("esc", "back")),
		Prev:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "previous")),
		Next:    key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next")),
		Cancel:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel execution")),
		Delete:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete execution")),
		Execute: key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "execute now")),
		Output:  key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "output")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Confirm: key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "confirm")),
		Deny:    key.NewBinding(key.WithKeys("n", "esc"), key.WithHelp("n", "keep")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}
