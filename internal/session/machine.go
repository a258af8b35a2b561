// Package session owns the exam session: its phase, the configured server
// address and the last user-facing error. Views read Snapshots and call the
// intent methods; nothing else mutates session state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/examalpha/examshell/internal/eventbus"
	"github.com/examalpha/examshell/internal/gateway"
	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/pubsub"
	"github.com/examalpha/examshell/internal/timing"
	"github.com/examalpha/examshell/internal/tracing"
)

// GraceDelay separates a successful authorization from process exit. It
// gives the supervisor time to flush before the shell disappears and cannot
// be shortened or cancelled.
const GraceDelay = 8000 * time.Millisecond

// IncorrectPassword is shown when the supervisor answers false.
const IncorrectPassword = "Incorrect Password"

var (
	// ErrLocked is returned when configuration is attempted after the exit
	// prompt has taken over.
	ErrLocked = errors.New("session is locked")
	// ErrSubmitInFlight is returned when a server submission is already
	// pending.
	ErrSubmitInFlight = errors.New("server submission already in flight")
	// ErrAttemptInFlight is returned when an exit authorization is already
	// pending.
	ErrAttemptInFlight = errors.New("exit authorization already in flight")
	// ErrNotLocked is returned for a password submitted while no exit
	// prompt is open.
	ErrNotLocked = errors.New("no exit request is pending")
	// ErrIncorrectPassword is returned when the supervisor answers false.
	ErrIncorrectPassword = errors.New("incorrect password")
)

// Gateway is the subset of the supervisor's command surface the machine
// drives. *gateway.Client satisfies it.
type Gateway interface {
	ServerURL(ctx context.Context) (*string, error)
	SetServer(ctx context.Context, url string) error
	ExitExam(ctx context.Context, password string) (bool, error)
}

// EventSource is where supervisor events arrive. *eventbus.Bus satisfies it.
type EventSource interface {
	Subscribe(name eventbus.Name, h eventbus.Handler) *eventbus.Subscription
}

// Snapshot is an immutable copy of session state.
type Snapshot struct {
	Phase Phase
	// ServerURL is empty when no address is configured.
	ServerURL string
	LastError string
	// Submitting is true while a server submission is pending.
	Submitting bool
	// ExitAt is when the process will exit. Zero unless Terminating.
	ExitAt time.Time
	// Version increases with every state change.
	Version uint64
}

// HasServerURL reports whether an address is configured.
func (s Snapshot) HasServerURL() bool {
	return s.ServerURL != ""
}

// Config wires a Machine.
type Config struct {
	Gateway Gateway
	// Clock drives the grace delay. Defaults to timing.RealClock.
	Clock timing.Clock
	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
	// Tracer defaults to the global otel tracer.
	Tracer trace.Tracer
}

// Machine is the session state machine. It is safe for concurrent use.
type Machine struct {
	gw     Gateway
	clock  timing.Clock
	exit   func(int)
	tracer trace.Tracer

	mu        sync.Mutex
	phase     Phase
	serverURL *string
	lastError string
	exitAt    time.Time
	version   uint64

	submit  guard
	attempt guard

	snapshots  *pubsub.Broker[Snapshot]
	terminated chan struct{}
}

// New creates a machine in the Unconfigured phase.
func New(cfg Config) *Machine {
	clock := cfg.Clock
	if clock == nil {
		clock = timing.RealClock{}
	}
	exit := cfg.Exit
	if exit == nil {
		exit = os.Exit
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("examshell/session")
	}
	return &Machine{
		gw:         cfg.Gateway,
		clock:      clock,
		exit:       exit,
		tracer:     tracer,
		phase:      Unconfigured,
		snapshots:  pubsub.NewBrokerWithBuffer[Snapshot](8),
		terminated: make(chan struct{}),
	}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe streams a Snapshot after every change. Slow readers only miss
// intermediate states, never the latest.
func (m *Machine) Subscribe(ctx context.Context) <-chan pubsub.Event[Snapshot] {
	return m.snapshots.Subscribe(ctx)
}

// Terminated is closed once the exit function has been called.
func (m *Machine) Terminated() <-chan struct{} {
	return m.terminated
}

// Load asks the supervisor for a stored address. A non-null answer moves an
// Unconfigured session to Configured. Errors leave state untouched.
func (m *Machine) Load(ctx context.Context) error {
	ctx, span := m.startSpan(ctx, "session.load")
	defer span.End()

	u, err := m.gw.ServerURL(ctx)
	if err != nil {
		log.ErrorErr(log.CatSession, "querying stored server address failed", err)
		tracing.RecordError(span, err, "load")
		return err
	}
	if u == nil {
		log.Info(log.CatSession, "no stored server address")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Unconfigured {
		addr := *u
		m.serverURL = &addr
		m.transitionLocked(Configured)
		log.Info(log.CatSession, "restored server address", "url", addr)
	}
	return nil
}

// SubmitServer sends url to the supervisor for validation. On success the
// session is Configured with url and no error. On failure the phase is kept
// and LastError carries the reason.
func (m *Machine) SubmitServer(ctx context.Context, url string) error {
	m.mu.Lock()
	if m.phase.Locked() {
		m.mu.Unlock()
		return ErrLocked
	}
	if !m.submit.tryAcquire() {
		m.mu.Unlock()
		return ErrSubmitInFlight
	}
	m.bumpLocked()
	m.mu.Unlock()

	ctx, span := m.startSpan(ctx, "session.submit_server")
	defer span.End()

	err := m.gw.SetServer(ctx, url)

	// The guard is released under the same lock that publishes the result,
	// so a resubmit that sees the result is never turned away.
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submit.release()
	defer m.bumpLocked()

	if err != nil {
		tracing.RecordError(span, err, "submit_server")
		if m.phase.Locked() {
			// The exit prompt owns LastError now.
			log.Warn(log.CatSession, "server submission failed after lock", "error", err)
			return err
		}
		m.lastError = gateway.UserMessage(err)
		log.Warn(log.CatSession, "server submission failed", "url", url, "error", err)
		return err
	}

	addr := url
	m.serverURL = &addr
	if m.phase == Unconfigured {
		m.phase = Configured
	}
	if !m.phase.Locked() {
		m.lastError = ""
	}
	log.Info(log.CatSession, "server address accepted", "url", url, "phase", m.phase)
	return nil
}

// RequestExit handles the supervisor's exit request. It locks a Configured
// session and reports whether it did. It is ignored while Unconfigured and a
// no-op once locked.
func (m *Machine) RequestExit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case Unconfigured:
		log.Info(log.CatSession, "exit request ignored: session not configured")
		return false
	case Configured:
		m.lastError = ""
		m.transitionLocked(LockedAwaitingExit)
		return true
	default:
		log.Debug(log.CatSession, "exit request repeated", "phase", m.phase)
		return false
	}
}

// SubmitPassword asks the supervisor to authorize exit. On true the session
// enters Terminating and the process exits after GraceDelay. A false answer
// returns ErrIncorrectPassword and a failed call returns its error; both
// leave the session LockedAwaitingExit for another attempt.
func (m *Machine) SubmitPassword(ctx context.Context, password string) error {
	m.mu.Lock()
	switch m.phase {
	case LockedAwaitingExit:
	case Verifying:
		m.mu.Unlock()
		return ErrAttemptInFlight
	default:
		m.mu.Unlock()
		return ErrNotLocked
	}
	if !m.attempt.tryAcquire() {
		m.mu.Unlock()
		return ErrAttemptInFlight
	}
	m.lastError = ""
	m.transitionLocked(Verifying)
	m.mu.Unlock()

	ctx, span := m.startSpan(ctx, "session.submit_password")
	defer span.End()

	ok, err := m.gw.ExitExam(ctx, password)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempt.release()

	switch {
	case err != nil:
		m.lastError = gateway.UserMessage(err)
		m.transitionLocked(LockedAwaitingExit)
		tracing.RecordError(span, err, "submit_password")
		log.Warn(log.CatSession, "exit authorization failed", "error", err)
		return err
	case !ok:
		m.lastError = IncorrectPassword
		m.transitionLocked(LockedAwaitingExit)
		span.SetAttributes(attribute.String(tracing.AttrOutcome, "denied"))
		log.Info(log.CatSession, "exit authorization denied")
		return ErrIncorrectPassword
	}

	m.exitAt = m.clock.Now().Add(GraceDelay)
	m.transitionLocked(Terminating)
	span.SetAttributes(attribute.String(tracing.AttrOutcome, "authorized"))
	log.Info(log.CatSession, "exit authorized, grace delay started", "exit_at", m.exitAt.Format(time.RFC3339))

	timing.After(m.clock, GraceDelay, func(time.Time) {
		log.Info(log.CatSession, "grace delay elapsed, exiting")
		m.exit(0)
		close(m.terminated)
	})
	return nil
}

// Attach subscribes the machine to supervisor events. The returned function
// releases both subscriptions and is safe to call more than once.
func (m *Machine) Attach(src EventSource) (detach func()) {
	exitSub := src.Subscribe(eventbus.ExitRequested, func(eventbus.Event) {
		m.RequestExit()
	})
	urlSub := src.Subscribe(eventbus.ServerURLChanged, func(e eventbus.Event) {
		var u string
		if err := json.Unmarshal(e.Payload, &u); err != nil {
			log.Warn(log.CatSession, "url event with unexpected payload", "payload", string(e.Payload))
			return
		}
		log.Info(log.CatSession, "supervisor reported server address", "url", u)
	})
	return func() {
		exitSub.Cancel()
		urlSub.Cancel()
	}
}

func (m *Machine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, name)
	span.SetAttributes(attribute.String(tracing.AttrSessionPhase, m.Snapshot().Phase.String()))
	return ctx, span
}

func (m *Machine) transitionLocked(next Phase) {
	if m.phase != next {
		log.Debug(log.CatSession, "phase changed", "from", m.phase, "to", next)
	}
	m.phase = next
	m.bumpLocked()
}

func (m *Machine) bumpLocked() {
	m.version++
	m.snapshots.Publish(pubsub.SnapshotEvent, m.snapshotLocked())
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:      m.phase,
		LastError:  m.lastError,
		Submitting: m.submit.busy(),
		ExitAt:     m.exitAt,
		Version:    m.version,
	}
	if m.serverURL != nil {
		s.ServerURL = *m.serverURL
	}
	return s
}
