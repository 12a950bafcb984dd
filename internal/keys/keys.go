// Package keys contains keybinding definitions.
package keys

import "github.com/charmbracelet/bubbles/key"

// SettingsKeyMap defines the keybindings for the settings viewer.
type SettingsKeyMap struct {
	// Navigation
	Up     key.Binding
	Down   key.Binding
	Top    key.Binding
	Bottom key.Binding

	// Actions
	Reset  key.Binding
	Reload key.Binding

	// General
	Help key.Binding
	Quit key.Binding
}

// Settings holds the settings viewer bindings.
var Settings = DefaultSettingsKeyMap()

// DefaultSettingsKeyMap returns the default settings viewer keybindings.
func DefaultSettingsKeyMap() SettingsKeyMap {
	return SettingsKeyMap{
		// Navigation
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "move down"),
		),
		Top: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "first setting"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "last setting"),
		),

		// Actions
		Reset: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reset to default"),
		),
		Reload: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "reload file"),
		),

		// General
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns keybindings for the short help view.
func (k SettingsKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Reset, k.Help, k.Quit}
}

// FullHelp returns keybindings for the full help view.
func (k SettingsKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Top, k.Bottom}, // Navigation
		{k.Reset, k.Reload},              // Actions
		{k.Help, k.Quit},                 // General
	}
}
