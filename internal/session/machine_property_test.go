package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/examalpha/examshell/internal/gateway"
	"github.com/examalpha/examshell/internal/protocol"
	"github.com/examalpha/examshell/internal/testutil"
)

// scriptedSupervisor behaves like a real supervisor: it stores the last
// accepted address and answers exit_exam from a per-call script.
type scriptedSupervisor struct {
	mu        sync.Mutex
	stored    *string
	setResult error
	exitOK    bool
	exitErr   error
	exitCalls int
}

func (s *scriptedSupervisor) ServerURL(context.Context) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stored == nil {
		return nil, nil
	}
	u := *s.stored
	return &u, nil
}

func (s *scriptedSupervisor) SetServer(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setResult != nil {
		return s.setResult
	}
	s.stored = &url
	return nil
}

func (s *scriptedSupervisor) ExitExam(context.Context, string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitCalls++
	return s.exitOK, s.exitErr
}

// sessionModel is the rapid state machine comparing Machine against a
// simple reference model.
type sessionModel struct {
	sup   *scriptedSupervisor
	clock *testutil.FakeClock
	exits *exitRecorder
	m     *Machine

	lastAccepted  string
	locked        bool
	terminating   bool
	authorizedAt  time.Time
	elapsedInTerm time.Duration
}

func newSessionModel() *sessionModel {
	sup := &scriptedSupervisor{}
	clock := testutil.NewFakeClock()
	exits := &exitRecorder{clock: clock}
	return &sessionModel{
		sup:   sup,
		clock: clock,
		exits: exits,
		m:     New(Config{Gateway: sup, Clock: clock, Exit: exits.exit}),
	}
}

func (s *sessionModel) submitServer(t *rapid.T) {
	url := rapid.SampledFrom([]string{"https://a.example", "https://b.example", "https://c.example"}).Draw(t, "url")
	fail := rapid.Bool().Draw(t, "setFails")

	s.sup.mu.Lock()
	s.sup.setResult = nil
	if fail {
		s.sup.setResult = &gateway.CommandError{Command: protocol.CmdSetServer, Kind: gateway.KindRejected, Message: "Something Went Wrong"}
	}
	s.sup.mu.Unlock()

	err := s.m.SubmitServer(context.Background(), url)
	switch {
	case s.locked:
		if !errors.Is(err, ErrLocked) {
			t.Fatalf("submit while locked: got %v, want ErrLocked", err)
		}
	case fail:
		if err == nil {
			t.Fatalf("expected failure")
		}
		if got := s.m.Snapshot().LastError; got != "Something Went Wrong" {
			t.Fatalf("LastError = %q", got)
		}
	default:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		s.lastAccepted = url
	}
}

func (s *sessionModel) requestExit(t *rapid.T) {
	before := s.m.Snapshot()
	changed := s.m.RequestExit()
	after := s.m.Snapshot()

	switch {
	case before.Phase == Unconfigured:
		if changed || after.Phase != Unconfigured {
			t.Fatalf("exit request must be ignored while unconfigured")
		}
	case before.Phase == Configured:
		if !changed || after.Phase != LockedAwaitingExit {
			t.Fatalf("exit request must lock a configured session")
		}
		s.locked = true
	default:
		if changed || after.Version != before.Version {
			t.Fatalf("repeated exit request changed state in %v", before.Phase)
		}
	}
}

func (s *sessionModel) submitPassword(t *rapid.T) {
	outcome := rapid.SampledFrom([]string{"true", "false", "transport", "rejected"}).Draw(t, "outcome")

	s.sup.mu.Lock()
	s.sup.exitOK, s.sup.exitErr = false, nil
	switch outcome {
	case "true":
		s.sup.exitOK = true
	case "transport":
		s.sup.exitErr = &gateway.CommandError{Command: protocol.CmdExitExam, Kind: gateway.KindTransport, Err: errors.New("down")}
	case "rejected":
		s.sup.exitErr = &gateway.CommandError{Command: protocol.CmdExitExam, Kind: gateway.KindRejected, Message: "Couldn't find password in store"}
	}
	s.sup.mu.Unlock()

	before := s.m.Snapshot()
	err := s.m.SubmitPassword(context.Background(), "pw")
	after := s.m.Snapshot()

	if before.Phase != LockedAwaitingExit {
		if !errors.Is(err, ErrNotLocked) {
			t.Fatalf("password in %v: got %v, want ErrNotLocked", before.Phase, err)
		}
		return
	}

	if outcome == "true" {
		if err != nil || after.Phase != Terminating {
			t.Fatalf("authorized attempt: err=%v phase=%v", err, after.Phase)
		}
		s.terminating = true
		s.authorizedAt = s.clock.Now()
		return
	}

	if after.Phase != LockedAwaitingExit {
		t.Fatalf("failed attempt left phase %v", after.Phase)
	}
	if s.clock.Pending() != 0 {
		t.Fatalf("a failed attempt started the grace timer")
	}
	want := map[string]string{
		"false":     IncorrectPassword,
		"transport": gateway.TransportMessage,
		"rejected":  "Couldn't find password in store",
	}[outcome]
	if after.LastError != want {
		t.Fatalf("LastError = %q, want %q", after.LastError, want)
	}
}

func (s *sessionModel) advance(t *rapid.T) {
	step := time.Duration(rapid.IntRange(1, 3000).Draw(t, "ms")) * time.Millisecond
	s.clock.Advance(step)
	if s.terminating {
		s.elapsedInTerm += step
	}
}

func (s *sessionModel) check(t *rapid.T) {
	snap := s.m.Snapshot()

	if snap.ServerURL != s.lastAccepted && s.lastAccepted != "" {
		t.Fatalf("ServerURL = %q, want last accepted %q", snap.ServerURL, s.lastAccepted)
	}
	if s.lastAccepted != "" {
		u, _ := s.sup.ServerURL(context.Background())
		if u == nil || *u != s.lastAccepted {
			t.Fatalf("server_url disagrees with last accepted submit")
		}
	}

	if !s.terminating {
		if len(s.exits.calls()) != 0 {
			t.Fatalf("exited without authorization")
		}
		return
	}

	if s.elapsedInTerm < GraceDelay {
		select {
		case <-s.m.Terminated():
			t.Fatalf("exited after %v, before the grace delay", s.elapsedInTerm)
		default:
		}
		return
	}

	select {
	case <-s.m.Terminated():
	case <-time.After(time.Second):
		t.Fatalf("no exit %v after authorization", s.elapsedInTerm)
	}
	if calls := s.exits.calls(); len(calls) != 1 || calls[0] != 0 {
		t.Fatalf("exit calls = %v, want [0]", calls)
	}
}

func TestMachine_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := newSessionModel()
		t.Repeat(map[string]func(*rapid.T){
			"submitServer":   s.submitServer,
			"requestExit":    s.requestExit,
			"submitPassword": s.submitPassword,
			"advance":        s.advance,
			"":               s.check,
		})
	})
}

// Property: whatever the supervisor answered before, only a true result ever
// arms the grace timer, and exit happens exactly GraceDelay later.
func TestMachine_GraceOnlyAfterTrue(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := newSessionModel()
		s.sup.stored = nil
		if err := s.m.SubmitServer(context.Background(), "https://exam.example"); err != nil {
			t.Fatalf("setup: %v", err)
		}
		s.m.RequestExit()

		failures := rapid.IntRange(0, 5).Draw(t, "failures")
		for i := 0; i < failures; i++ {
			s.sup.exitOK, s.sup.exitErr = false, nil
			_ = s.m.SubmitPassword(context.Background(), "wrong")
			if s.clock.Pending() != 0 {
				t.Fatalf("timer armed after failure %d", i)
			}
		}

		s.sup.exitOK = true
		start := s.clock.Now()
		if err := s.m.SubmitPassword(context.Background(), "right"); err != nil {
			t.Fatalf("authorize: %v", err)
		}
		s.clock.Advance(GraceDelay)
		<-s.m.Terminated()
		if got := s.exits.at[0].Sub(start); got != GraceDelay {
			t.Fatalf("exit after %v, want %v", got, GraceDelay)
		}
		if s.sup.exitCalls != failures+1 {
			t.Fatalf("exit_exam called %d times, want %d", s.sup.exitCalls, failures+1)
		}
	})
}
