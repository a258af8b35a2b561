package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/examalpha/examshell/internal/store"
)

type settingData struct {
	key   string
	value string
}

// Builder accumulates seed data and inserts it on Build.
type Builder struct {
	t        *testing.T
	db       *sql.DB
	settings []settingData
	attempts []attemptData
}

// NewBuilder creates a builder for the given test database.
func NewBuilder(t *testing.T, db *sql.DB) *Builder {
	t.Helper()
	return &Builder{t: t, db: db}
}

// WithSetting stores key=value.
func (b *Builder) WithSetting(key, value string) *Builder {
	b.settings = append(b.settings, settingData{key, value})
	return b
}

// WithServerURL stores an accepted server address.
func (b *Builder) WithServerURL(url string) *Builder {
	return b.WithSetting(store.KeyServerURL, url)
}

// WithPassword stores an exit password.
func (b *Builder) WithPassword(password string) *Builder {
	return b.WithSetting(store.KeyPassword, password)
}

// WithAttempt adds an audited exit attempt.
func (b *Builder) WithAttempt(outcome store.Outcome, opts ...AttemptOption) *Builder {
	a := defaultAttempt(outcome)
	for _, opt := range opts {
		opt(&a)
	}
	b.attempts = append(b.attempts, a)
	return b
}

// Build inserts all accumulated data into the database.
func (b *Builder) Build() {
	b.t.Helper()
	for _, s := range b.settings {
		_, err := b.db.Exec(
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			s.key, s.value, time.Now().Unix())
		require.NoError(b.t, err, "insert setting %s", s.key)
	}
	for _, a := range b.attempts {
		var detail any
		if a.detail != "" {
			detail = a.detail
		}
		_, err := b.db.Exec(
			`INSERT INTO exit_attempts (guid, outcome, detail, created_at) VALUES (?, ?, ?, ?)`,
			a.guid, string(a.outcome), detail, a.createdAt.Unix())
		require.NoError(b.t, err, "insert attempt %s", a.guid)
	}
}
