// Package app contains the root application model. It owns the session
// subscription, routes intents from the views to the session machine and
// decides which view is on screen.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"github.com/examalpha/examshell/internal/gateway"
	"github.com/examalpha/examshell/internal/keys"
	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/pubsub"
	"github.com/examalpha/examshell/internal/session"
	"github.com/examalpha/examshell/internal/ui/configview"
	"github.com/examalpha/examshell/internal/ui/exitview"
	"github.com/examalpha/examshell/internal/ui/logoverlay"
	"github.com/examalpha/examshell/internal/ui/styles"
)

const offlineNotice = "Supervisor offline, reconnecting..."

// Session is the part of *session.Machine the UI drives.
type Session interface {
	Snapshot() session.Snapshot
	Subscribe(ctx context.Context) <-chan pubsub.Event[session.Snapshot]
	Terminated() <-chan struct{}
	Load(ctx context.Context) error
	SubmitServer(ctx context.Context, url string) error
	SubmitPassword(ctx context.Context, password string) error
}

// Config wires the root model.
type Config struct {
	Session Session
	// Notice is markdown shown above the server form.
	Notice        string
	MarkdownStyle string
	// Kiosk disables the quit key from Configured until Terminating.
	Kiosk bool
	// Debug mounts the log overlay.
	Debug bool
	// Link reports the supervisor event stream's connection. Optional.
	Link pubsub.Subscriber[gateway.LinkState]
	// Now drives the exit countdown. Defaults to time.Now.
	Now func() time.Time
}

type loadedMsg struct{ err error }

type attemptMsg struct{ err error }

type terminatedMsg struct{}

// Model is the root application state.
type Model struct {
	session  Session
	ctx      context.Context
	cancel   context.CancelFunc
	snaps    *pubsub.ContinuousListener[session.Snapshot]
	snap     session.Snapshot
	links    *pubsub.ContinuousListener[gateway.LinkState]
	offline  bool
	kiosk    bool
	debug    bool
	quitting bool

	config configview.Model
	exit   exitview.Model
	logs   logoverlay.Model
	help   help.Model

	width  int
	height int
}

// New creates the root model. The snapshot subscription starts immediately
// so no transition between New and Init is lost.
func New(cfg Config) Model {
	ctx, cancel := context.WithCancel(context.Background())

	m := Model{
		session: cfg.Session,
		ctx:     ctx,
		cancel:  cancel,
		snaps:   pubsub.NewContinuousListener[session.Snapshot](ctx, cfg.Session),
		kiosk:   cfg.Kiosk,
		debug:   cfg.Debug,
		config: configview.New(configview.Config{
			Notice:        cfg.Notice,
			MarkdownStyle: cfg.MarkdownStyle,
		}),
		exit: exitview.New(cfg.Now),
		logs: logoverlay.New(),
		help: help.New(),
	}
	if cfg.Link != nil {
		m.links = pubsub.NewContinuousListener[gateway.LinkState](ctx, cfg.Link)
	}
	m, _ = m.applySnapshot(cfg.Session.Snapshot())
	return m
}

// Init loads the stored address and starts listening for session changes.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.config.Init(),
		m.snaps.Listen(),
		m.waitTerminated(),
		m.load(),
	}
	if m.links != nil {
		cmds = append(cmds, m.links.Listen())
	}
	if m.debug {
		cmds = append(cmds, m.logs.Listen(m.ctx))
	}
	return tea.Batch(cmds...)
}

func (m Model) load() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: m.session.Load(m.ctx)}
	}
}

func (m Model) waitTerminated() tea.Cmd {
	done := m.session.Terminated()
	ctx := m.ctx
	return func() tea.Msg {
		select {
		case <-done:
			return terminatedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.config = m.config.SetSize(msg.Width, msg.Height-1)
		m.exit = m.exit.SetSize(msg.Width, msg.Height-1)
		m.logs.SetSize(msg.Width, msg.Height)
		m.help.Width = msg.Width
		return m, nil

	case pubsub.Event[session.Snapshot]:
		var cmd tea.Cmd
		m, cmd = m.applySnapshot(msg.Payload)
		return m, tea.Batch(cmd, m.snaps.Listen())

	case pubsub.Event[gateway.LinkState]:
		m.offline = !msg.Payload.Connected
		cmds := []tea.Cmd{m.links.Listen()}
		// A supervisor that was down at startup may have the stored address
		// by now.
		if msg.Payload.Connected && m.snap.Phase == session.Unconfigured && !m.snap.Submitting {
			log.Debug(log.CatUI, "supervisor reachable, reloading stored address")
			cmds = append(cmds, m.load())
		}
		return m, tea.Batch(cmds...)

	case terminatedMsg:
		log.Info(log.CatUI, "session terminated, closing UI")
		m.quitting = true
		return m, tea.Quit

	case loadedMsg:
		if msg.err != nil {
			log.Warn(log.CatUI, "could not load stored server address", "error", msg.err)
		}
		return m, nil

	case configview.SubmitMsg:
		return m, m.submitServer(msg.URL)

	case exitview.SubmitMsg:
		return m, m.submitPassword(msg.Password)

	case attemptMsg:
		if msg.err != nil && !errors.Is(msg.err, session.ErrIncorrectPassword) {
			log.Debug(log.CatUI, "exit attempt ended", "error", msg.err)
		}
		return m, nil

	case log.LogEvent:
		var cmd tea.Cmd
		m.logs, cmd = m.logs.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, keys.App.Quit) {
			if m.quitLocked() {
				log.Debug(log.CatUI, "quit key ignored in kiosk mode", "phase", m.snap.Phase)
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		}
		if m.debug && key.Matches(msg, keys.App.ToggleLog) {
			m.logs.Toggle()
			return m, nil
		}
		if m.logs.Visible() {
			var cmd tea.Cmd
			m.logs, cmd = m.logs.Update(msg)
			return m, cmd
		}
	}

	return m.delegate(msg)
}

// quitLocked reports whether kiosk mode currently holds the quit key. The
// lock starts once a server is accepted and lifts when exit is authorized,
// so a shell that never reached its server can still be closed.
func (m Model) quitLocked() bool {
	if !m.kiosk {
		return false
	}
	return m.snap.Phase != session.Unconfigured && m.snap.Phase != session.Terminating
}

// delegate hands msg to the view that owns the screen.
func (m Model) delegate(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.snap.Phase.Locked() {
		m.exit, cmd = m.exit.Update(msg)
		return m, cmd
	}
	m.config, cmd = m.config.Update(msg)
	return m, cmd
}

func (m Model) applySnapshot(s session.Snapshot) (Model, tea.Cmd) {
	if s.Version < m.snap.Version {
		return m, nil
	}
	if s.Phase != m.snap.Phase {
		log.Debug(log.CatUI, "view follows phase", "phase", s.Phase)
	}
	m.snap = s
	var c1, c2 tea.Cmd
	m.config, c1 = m.config.SetSnapshot(s)
	m.exit, c2 = m.exit.SetSnapshot(s)
	return m, tea.Batch(c1, c2)
}

func (m Model) submitServer(url string) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		err := m.session.SubmitServer(ctx, url)
		return configview.ResultMsg{Err: err}
	}
}

func (m Model) submitPassword(password string) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return attemptMsg{err: m.session.SubmitPassword(ctx, password)}
	}
}

// Snapshot returns the state the UI last rendered.
func (m Model) Snapshot() session.Snapshot {
	return m.snap
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	view := m.config.View()
	if m.snap.Phase.Locked() {
		view = m.exit.Overlay(view)
	}

	footer := m.help.View(keys.Help{QuitLocked: m.quitLocked(), Debug: m.debug})
	if m.offline {
		footer = styles.ErrorStyle.Render(offlineNotice) + "  " + footer
	}
	view = lipgloss.JoinVertical(lipgloss.Left, view, footer)

	if m.debug && m.logs.Visible() {
		view = m.logs.Overlay(view)
	}
	return zone.Scan(view)
}

// Close stops the model's subscriptions and cancels any command still
// waiting on the supervisor.
func (m *Model) Close() {
	m.cancel()
}
