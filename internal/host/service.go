// Package host implements the reference supervising process: it answers the
// shell's commands, keeps the server address and exit password in sqlite and
// pushes events to connected shells.
package host

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/examalpha/examshell/internal/cachemanager"
	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/protocol"
	"github.com/examalpha/examshell/internal/store"
	"github.com/examalpha/examshell/internal/timing"
	"github.com/examalpha/examshell/internal/validator"
)

// Messages returned to the shell. They are shown verbatim.
const (
	MsgRequestIncorrect = "Request was incorrect"
	MsgSomethingWrong   = "Something Went Wrong"
	MsgNoPassword       = "Couldn't find password in store"
)

// ErrNotConfigured is returned by RefreshPassword before a server address
// has been accepted.
var ErrNotConfigured = errors.New("no server configured")

// Rejection is a command failure reported to the shell as ok:false.
type Rejection struct {
	Message string
}

func (r *Rejection) Error() string { return r.Message }

func reject(format string, args ...any) error {
	return &Rejection{Message: fmt.Sprintf(format, args...)}
}

// SettingsStore persists key/value settings. *store.Settings satisfies it.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// AttemptRecorder audits exit attempts. *store.ExitAttempts satisfies it.
type AttemptRecorder interface {
	Record(ctx context.Context, outcome store.Outcome, detail string) (store.ExitAttempt, error)
}

// ValidatorClient talks to the exam's validation server.
// *validator.Client satisfies it.
type ValidatorClient interface {
	Validate(ctx context.Context, base string) (validator.ValidateResponse, error)
	Password(ctx context.Context, base string) (string, error)
}

// Publisher pushes events to connected shells. *Hub satisfies it.
type Publisher interface {
	Publish(name string, payload any) (uint64, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Settings  SettingsStore
	Validator ValidatorClient
	Events    Publisher
	// Attempts is nil when auditing is disabled.
	Attempts AttemptRecorder
	Clock    timing.Clock
	// PasswordTTL bounds how long a cached password is trusted.
	PasswordTTL time.Duration
}

// Service implements the three shell commands plus the password refresher.
type Service struct {
	settings  SettingsStore
	validator ValidatorClient
	events    Publisher
	attempts  AttemptRecorder
	clock     timing.Clock
	passwords *cachemanager.ReadThrough[string]
	kick      chan struct{}
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = timing.RealClock{}
	}
	ttl := cfg.PasswordTTL
	if ttl <= 0 {
		ttl = cachemanager.DefaultExpiration
	}
	s := &Service{
		settings:  cfg.Settings,
		validator: cfg.Validator,
		events:    cfg.Events,
		attempts:  cfg.Attempts,
		clock:     clock,
		kick:      make(chan struct{}, 1),
	}
	s.passwords = cachemanager.NewReadThrough[string](
		cachemanager.NewMemory[string]("exit-password", cachemanager.DefaultCleanupInterval),
		s.settings.Get,
		ttl,
	)
	return s
}

// ServerURL returns the stored server address, or nil when none is set.
func (s *Service) ServerURL(ctx context.Context) (*string, error) {
	value, err := s.settings.Get(ctx, store.KeyServerURL)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

// SetServer validates addr against its validation server, stores it and
// announces the redirect target as a url event.
func (s *Service) SetServer(ctx context.Context, addr string) error {
	log.Info(log.CatHost, "set_server requested", "url", addr)

	resp, err := s.validator.Validate(ctx, addr)
	if err != nil {
		var statusErr *validator.StatusError
		if errors.As(err, &statusErr) {
			if statusErr.ClientError() {
				return reject(MsgRequestIncorrect)
			}
			return reject(MsgSomethingWrong)
		}
		return reject("%s", err.Error())
	}

	target, err := url.Parse(resp.IPAddr)
	if err != nil {
		return reject("Invalid URL: %s", err)
	}
	if !target.IsAbs() {
		return reject("Invalid URL: relative URL without a base")
	}

	if err := s.settings.Set(ctx, store.KeyServerURL, addr); err != nil {
		return fmt.Errorf("saving server url: %w", err)
	}

	if _, err := s.events.Publish(protocol.EventURL, target.String()); err != nil {
		log.ErrorErr(log.CatHost, "Failed to publish url event", err)
	}
	s.RequestRefresh()
	log.Info(log.CatHost, "Server accepted", "url", addr, "redirect", target.String())
	return nil
}

// ExitExam reports whether password matches the stored exit password.
func (s *Service) ExitExam(ctx context.Context, password string) (bool, error) {
	stored, err := s.passwords.Get(ctx, store.KeyPassword)
	if errors.Is(err, store.ErrNotFound) {
		s.RequestRefresh()
		log.Error(log.CatHost, "Couldn't find password in store, making a new request")
		s.audit(ctx, store.OutcomeError, MsgNoPassword)
		return false, reject(MsgNoPassword)
	}
	if err != nil {
		s.audit(ctx, store.OutcomeError, err.Error())
		return false, err
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
		log.Warn(log.CatHost, "Exit denied: incorrect password")
		s.audit(ctx, store.OutcomeDenied, "")
		return false, nil
	}

	log.Info(log.CatHost, "A user has requested exit and app will shut down")
	s.audit(ctx, store.OutcomeAuthorized, "")
	return true, nil
}

func (s *Service) audit(ctx context.Context, outcome store.Outcome, detail string) {
	if s.attempts == nil {
		return
	}
	if _, err := s.attempts.Record(ctx, outcome, detail); err != nil {
		log.ErrorErr(log.CatHost, "Failed to record exit attempt", err, "outcome", outcome)
	}
}

// RefreshPassword fetches the exit password from the configured server and
// stores it.
func (s *Service) RefreshPassword(ctx context.Context) error {
	addr, err := s.settings.Get(ctx, store.KeyServerURL)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotConfigured
	}
	if err != nil {
		return err
	}

	password, err := s.validator.Password(ctx, addr)
	if err != nil {
		return fmt.Errorf("querying password: %w", err)
	}
	if err := s.settings.Set(ctx, store.KeyPassword, password); err != nil {
		return fmt.Errorf("saving password: %w", err)
	}
	s.passwords.Prime(store.KeyPassword, password)
	log.Debug(log.CatHost, "Exit password refreshed", "server", addr)
	return nil
}

// RequestRefresh asks the refresher loop to fetch the password now. It never
// blocks; requests made while one is pending are merged.
func (s *Service) RequestRefresh() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// RunRefresher refreshes the password once at start, every interval and
// whenever RequestRefresh is called, until ctx ends.
func (s *Service) RunRefresher(ctx context.Context, interval time.Duration) {
	refresh := func() {
		err := s.RefreshPassword(ctx)
		switch {
		case err == nil, errors.Is(err, ErrNotConfigured):
		case ctx.Err() != nil:
		default:
			log.ErrorErr(log.CatHost, "Password refresh failed", err)
		}
	}

	refresh()
	for {
		timer := s.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
			refresh()
		case <-s.kick:
			timer.Stop()
			refresh()
		}
	}
}
