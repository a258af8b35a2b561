package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/examalpha/examshell/internal/store"
)

// attemptData holds an exit attempt to be inserted.
type attemptData struct {
	guid      string
	outcome   store.Outcome
	detail    string
	createdAt time.Time
}

// AttemptOption configures an attempt added with WithAttempt.
type AttemptOption func(*attemptData)

func defaultAttempt(outcome store.Outcome) attemptData {
	return attemptData{
		guid:      uuid.NewString(),
		outcome:   outcome,
		createdAt: time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC),
	}
}

// Detail sets the attempt's detail text.
func Detail(detail string) AttemptOption {
	return func(a *attemptData) { a.detail = detail }
}

// At sets when the attempt happened.
func At(ts time.Time) AttemptOption {
	return func(a *attemptData) { a.createdAt = ts }
}

// GUID fixes the attempt's guid.
func GUID(guid string) AttemptOption {
	return func(a *attemptData) { a.guid = guid }
}
