// Package exitview is the password prompt shown once the supervisor asks
// for the session to end. It takes over the screen until the process exits.
package exitview

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"github.com/examalpha/examshell/internal/keys"
	"github.com/examalpha/examshell/internal/session"
	"github.com/examalpha/examshell/internal/ui/overlay"
	"github.com/examalpha/examshell/internal/ui/styles"
)

const (
	Title       = "End Examination"
	Prompt      = "Enter Password"
	Placeholder = "***************"
	// EmptyMessage is shown when Submit is pressed with no password.
	EmptyMessage = "Please enter the password."

	zoneSubmit = "exitview-submit"

	boxWidth = 40
)

// SubmitMsg asks the root model to submit Password to the session.
type SubmitMsg struct {
	Password string
}

type countdownMsg struct{}

type field int

const (
	fieldInput field = iota
	fieldSubmit
)

// Model is the exit prompt state.
type Model struct {
	input   textinput.Model
	spinner spinner.Model
	focus   field
	snap    session.Snapshot
	invalid bool
	now     func() time.Time

	width  int
	height int
}

// New creates the prompt with a masked, focused password field. now is
// used for the exit countdown and defaults to time.Now.
func New(now func() time.Time) Model {
	if now == nil {
		now = time.Now
	}
	ti := textinput.New()
	ti.Placeholder = Placeholder
	ti.Prompt = ""
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '*'
	ti.Width = boxWidth - 10
	ti.Focus()

	return Model{
		input: ti,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(styles.SpinnerColor)),
		),
		now: now,
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// SetSnapshot updates the session state the prompt renders.
func (m Model) SetSnapshot(s session.Snapshot) (Model, tea.Cmd) {
	prev := m.snap.Phase
	m.snap = s
	switch {
	case s.Phase == session.Verifying && prev != session.Verifying:
		return m, m.spinner.Tick
	case s.Phase == session.Terminating && prev != session.Terminating:
		m.input.Blur()
		return m, countdown()
	case s.Phase == session.LockedAwaitingExit && prev == session.Verifying:
		// Failed attempt: clear the field for the next one.
		m.input.Reset()
		m = m.focusField(fieldInput)
	}
	return m, nil
}

// SetSize records the terminal size for centering.
func (m Model) SetSize(width, height int) Model {
	m.width = width
	m.height = height
	return m
}

func countdown() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return countdownMsg{} })
}

// Update handles key, mouse, spinner and countdown messages.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case countdownMsg:
		if m.snap.Phase != session.Terminating {
			return m, nil
		}
		return m, countdown()

	case spinner.TickMsg:
		if m.snap.Phase != session.Verifying {
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
		return m, nil

	case tea.KeyMsg:
		if m.snap.Phase == session.Terminating {
			return m, nil
		}
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

	if m.focus != fieldInput || m.snap.Phase != session.LockedAwaitingExit {
		return m, nil
	}
	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
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
	if m.snap.Phase != session.LockedAwaitingExit {
		return m, nil
	}
	pw := m.input.Value()
	if pw == "" {
		m.invalid = true
		return m, nil
	}
	m.invalid = false
	return m, func() tea.Msg { return SubmitMsg{Password: pw} }
}

// Status is the unstyled line under the form.
func (m Model) Status() string {
	switch {
	case m.snap.Phase == session.Terminating:
		return fmt.Sprintf("Exit authorized. Closing in %ds.", m.remaining())
	case m.snap.Phase == session.Verifying:
		return ""
	case m.invalid:
		return EmptyMessage
	default:
		return m.snap.LastError
	}
}

func (m Model) remaining() int {
	left := m.snap.ExitAt.Sub(m.now())
	return max(int(math.Ceil(left.Seconds())), 0)
}

// View renders the prompt box.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(styles.TitleStyle.Render(Prompt))
	b.WriteString("\n\n")
	b.WriteString(styles.InputBox(m.focus == fieldInput, boxWidth-6).Render(m.input.View()))
	b.WriteString("\n\n")

	busy := m.snap.Phase != session.LockedAwaitingExit
	label := "Submit"
	if m.snap.Phase == session.Verifying {
		label = m.spinner.View() + " Submitting..."
	}
	b.WriteString(zone.Mark(zoneSubmit, styles.Button(m.focus == fieldSubmit, busy).Render(label)))

	if status := m.Status(); status != "" {
		style := styles.ErrorStyle
		if m.snap.Phase == session.Terminating {
			style = styles.SuccessStyle
		}
		b.WriteString("\n\n")
		b.WriteString(style.Render(styles.Wrap(status, boxWidth-6)))
	}

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.OverlayLockColor).
		Render(Title)

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.OverlayLockColor).
		Padding(0, 2).
		Width(boxWidth).
		Render(header + "\n\n" + b.String())
}

// Overlay renders the prompt centered over a dimmed bg.
func (m Model) Overlay(bg string) string {
	return overlay.Place(overlay.Config{
		Width:    m.width,
		Height:   m.height,
		Position: overlay.Center,
		Dim:      true,
	}, m.View(), bg)
}
