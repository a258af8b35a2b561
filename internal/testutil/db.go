// Package testutil provides test helpers: a migrated sqlite database, a
// builder for seeding it and a fake clock.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/examalpha/examshell/internal/store"
)

// NewTestDB opens a fully migrated database in a temp directory. It is
// closed when the test ends.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "examshell.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
