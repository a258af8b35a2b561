// Package keys contains keybinding definitions.
package keys

import "github.com/charmbracelet/bubbles/key"

// FormKeys drive the single-field forms of the configuration and exit views.
type FormKeys struct {
	Submit    key.Binding
	NextField key.Binding
	PrevField key.Binding
}

// AppKeys are handled by the root model before any view sees them.
type AppKeys struct {
	Quit      key.Binding
	ToggleLog key.Binding
}

// Form is the shared form keymap.
var Form = FormKeys{
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "submit"),
	),
	NextField: key.NewBinding(
		key.WithKeys("tab", "down"),
		key.WithHelp("tab", "next field"),
	),
	PrevField: key.NewBinding(
		key.WithKeys("shift+tab", "up"),
		key.WithHelp("shift+tab", "previous field"),
	),
}

// App is the root keymap.
var App = AppKeys{
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "quit"),
	),
	ToggleLog: key.NewBinding(
		key.WithKeys("ctrl+x"),
		key.WithHelp("ctrl+x", "logs"),
	),
}

// ShortHelp implements help.KeyMap.
func (k FormKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.NextField}
}

// FullHelp implements help.KeyMap.
func (k FormKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Submit, k.NextField, k.PrevField}}
}

// Help combines the form keys with whichever app keys are live.
type Help struct {
	// QuitLocked hides quit while kiosk mode is holding it.
	QuitLocked bool
	Debug      bool
}

// ShortHelp implements help.KeyMap.
func (h Help) ShortHelp() []key.Binding {
	bindings := Form.ShortHelp()
	if h.Debug {
		bindings = append(bindings, App.ToggleLog)
	}
	if !h.QuitLocked {
		bindings = append(bindings, App.Quit)
	}
	return bindings
}

// FullHelp implements help.KeyMap.
func (h Help) FullHelp() [][]key.Binding {
	return [][]key.Binding{h.ShortHelp()}
}
