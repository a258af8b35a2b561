// Package configview is the screen that asks for the examination server's
// address. It renders session snapshots and turns input into SubmitMsg; the
// root model owns the session and performs the submission.
package configview

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"github.com/examalpha/examshell/internal/keys"
	"github.com/examalpha/examshell/internal/session"
	"github.com/examalpha/examshell/internal/ui/markdown"
	"github.com/examalpha/examshell/internal/ui/styles"
)

const (
	// Placeholder is shown in the empty address field.
	Placeholder = "https://example.com"
	// SuccessMessage is shown after the supervisor accepted an address.
	SuccessMessage = "Success: waiting for redirect ..."
	// EmptyMessage is shown when Submit is pressed with no address.
	EmptyMessage = "Please enter a server URL."

	zoneSubmit = "configview-submit"
	zoneInput  = "configview-input"

	formWidth = 48
)

// SubmitMsg asks the root model to submit URL to the session.
type SubmitMsg struct {
	URL string
}

// ResultMsg reports how a submission ended. The root model forwards it back
// after the session call returns.
type ResultMsg struct {
	Err error
}

// Config holds the view's static content.
type Config struct {
	// Notice is markdown rendered above the form.
	Notice string
	// MarkdownStyle is "dark" or "light".
	MarkdownStyle string
}

type field int

const (
	fieldInput field = iota
	fieldSubmit
)

// Model is the configuration view state.
type Model struct {
	cfg     Config
	notice  string
	input   textinput.Model
	spinner spinner.Model
	focus   field

	snap session.Snapshot
	// edited is set once the user typed, so a restored address never
	// overwrites their input.
	edited bool
	// accepted is set when this view's last submission succeeded.
	accepted bool
	invalid  bool

	width  int
	height int
}

// New creates the view with focus in the address field.
func New(cfg Config) Model {
	ti := textinput.New()
	ti.Placeholder = Placeholder
	ti.Prompt = ""
	ti.Width = formWidth - 6
	ti.PlaceholderStyle = lipgloss.NewStyle().Foreground(styles.TextPlaceholderColor)
	ti.Focus()

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(styles.SpinnerColor)),
	)

	return Model{
		cfg:     cfg,
		notice:  markdown.RenderOrPlain(cfg.Notice, formWidth, cfg.MarkdownStyle),
		input:   ti,
		spinner: sp,
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// SetSnapshot updates the session state the view renders. A restored
// address prefills the field until the user edits it.
func (m Model) SetSnapshot(s session.Snapshot) (Model, tea.Cmd) {
	wasSubmitting := m.snap.Submitting
	m.snap = s
	if !m.edited && s.HasServerURL() && m.input.Value() == "" {
		m.input.SetValue(s.ServerURL)
		m.input.CursorEnd()
	}
	if s.Submitting && !wasSubmitting {
		return m, m.spinner.Tick
	}
	return m, nil
}

// SetSize records the terminal size for centering.
func (m Model) SetSize(width, height int) Model {
	m.width = width
	m.height = height
	return m
}

// Value returns the current address text.
func (m Model) Value() string {
	return m.input.Value()
}

// Update handles key, mouse and spinner messages.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ResultMsg:
		m.accepted = msg.Err == nil
		return m, nil

	case spinner.TickMsg:
		if !m.snap.Submitting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		if msg.Button != tea.MouseButtonLeft || msg.Action != tea.MouseActionRelease {
			return m, nil
		}
		if z := zone.Get(zoneSubmit); z != nil && z.InBounds(msg) {
			m = m.focusField(fieldSubmit)
			return m.submit()
		}
		if z := zone.Get(zoneInput); z != nil && z.InBounds(msg) {
			m = m.focusField(fieldInput)
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Form.Submit):
			return m.submit()
		case key.Matches(msg, keys.Form.NextField), key.Matches(msg, keys.Form.PrevField):
			if m.focus == fieldInput {
				m = m.focusField(fieldSubmit)
			} else {
				m = m.focusField(fieldInput)
			}
			return m, nil
		}
	}

	if m.focus != fieldInput {
		return m, nil
	}
	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		m.edited = true
		m.invalid = false
	}
	return m, cmd
}

func (m Model) focusField(f field) Model {
	m.focus = f
	if f == fieldInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	return m
}

func (m Model) submit() (Model, tea.Cmd) {
	if m.snap.Submitting || m.snap.Phase.Locked() {
		return m, nil
	}
	url := strings.TrimSpace(m.input.Value())
	if url == "" {
		m.invalid = true
		return m, nil
	}
	m.invalid = false
	m.accepted = false
	return m, func() tea.Msg { return SubmitMsg{URL: url} }
}

// Status is the line shown under the form, without styling. Nothing is shown
// while a submission is pending.
func (m Model) Status() string {
	switch {
	case m.snap.Submitting:
		return ""
	case m.invalid:
		return EmptyMessage
	case m.snap.LastError != "":
		return "Error: " + m.snap.LastError
	case m.accepted:
		return SuccessMessage
	default:
		return ""
	}
}

// View renders the form.
func (m Model) View() string {
	var b strings.Builder

	if m.notice != "" {
		b.WriteString(m.notice)
		b.WriteString("\n\n")
	}

	b.WriteString(styles.LabelStyle.Render("Server URL"))
	b.WriteString("\n")
	box := styles.InputBox(m.focus == fieldInput, formWidth-2).Render(m.input.View())
	b.WriteString(zone.Mark(zoneInput, box))
	b.WriteString("\n\n")

	var label string
	if m.snap.Submitting {
		label = m.spinner.View() + " Connecting..."
	} else {
		label = "Submit"
	}
	btn := styles.Button(m.focus == fieldSubmit, m.snap.Submitting).Render(label)
	b.WriteString(zone.Mark(zoneSubmit, btn))

	if status := m.Status(); status != "" {
		style := styles.SuccessStyle
		if status != SuccessMessage {
			style = styles.ErrorStyle
		}
		b.WriteString("\n\n")
		b.WriteString(style.Render(styles.Wrap(status, formWidth)))
	}

	form := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.OverlayBorderColor).
		Padding(1, 2).
		Render(b.String())

	if m.width == 0 || m.height == 0 {
		return form
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}
