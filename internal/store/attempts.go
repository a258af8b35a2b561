package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome of an exit attempt.
type Outcome string

const (
	OutcomeAuthorized Outcome = "authorized"
	OutcomeDenied     Outcome = "denied"
	OutcomeError      Outcome = "error"
)

// ExitAttempt is one audited exit_exam call.
type ExitAttempt struct {
	ID        int64
	GUID      string
	Outcome   Outcome
	Detail    string
	CreatedAt time.Time
}

// ExitAttempts is the append-only audit of exit attempts.
type ExitAttempts struct {
	db  *sql.DB
	now func() time.Time
}

// NewExitAttempts wraps db.
func NewExitAttempts(db *sql.DB) *ExitAttempts {
	return &ExitAttempts{db: db, now: time.Now}
}

// Record appends an attempt and returns it with its identifiers filled in.
func (a *ExitAttempts) Record(ctx context.Context, outcome Outcome, detail string) (ExitAttempt, error) {
	attempt := ExitAttempt{
		GUID:      uuid.NewString(),
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: a.now().Truncate(time.Second),
	}

	var detailCol *string
	if detail != "" {
		detailCol = &detail
	}
	res, err := a.db.ExecContext(ctx,
		`INSERT INTO exit_attempts (guid, outcome, detail, created_at) VALUES (?, ?, ?, ?)`,
		attempt.GUID, string(outcome), detailCol, attempt.CreatedAt.Unix(),
	)
	if err != nil {
		return ExitAttempt{}, fmt.Errorf("record exit attempt: %w", err)
	}
	if attempt.ID, err = res.LastInsertId(); err != nil {
		return ExitAttempt{}, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return attempt, nil
}

// Recent returns up to limit attempts, newest first.
func (a *ExitAttempts) Recent(ctx context.Context, limit int) ([]ExitAttempt, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, guid, outcome, detail, created_at FROM exit_attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list exit attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ExitAttempt
	for rows.Next() {
		var (
			attempt ExitAttempt
			outcome string
			detail  sql.NullString
			created int64
		)
		if err := rows.Scan(&attempt.ID, &attempt.GUID, &outcome, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan exit attempt: %w", err)
		}
		attempt.Outcome = Outcome(outcome)
		attempt.Detail = detail.String
		attempt.CreatedAt = time.Unix(created, 0)
		out = append(out, attempt)
	}
	return out, rows.Err()
}
