package testutil

import (
	"time"

	"github.com/examalpha/examshell/internal/store"
)

// WithConfiguredHost seeds a supervisor that has accepted a server and
// fetched its exit password.
func (b *Builder) WithConfiguredHost(url, password string) *Builder {
	return b.WithServerURL(url).WithPassword(password)
}

// WithAttemptHistory adds a denied, an errored and an authorized attempt,
// one minute apart, in that order.
func (b *Builder) WithAttemptHistory() *Builder {
	start := time.Date(2026, 1, 17, 9, 0, 0, 0, time.UTC)
	return b.
		WithAttempt(store.OutcomeDenied, At(start)).
		WithAttempt(store.OutcomeError, At(start.Add(time.Minute)), Detail("Couldn't find password in store")).
		WithAttempt(store.OutcomeAuthorized, At(start.Add(2*time.Minute)))
}
