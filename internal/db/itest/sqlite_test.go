//go:build itest && !test_db_postgres

package itest

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/btcsuite/hdaccount/internal/db/dbtest"
	"github.com/stretchr/testify/require"
)

// newStore creates a fresh SQLite database for the calling test.
func newStore(t *testing.T) db.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "hdaccount.db")

	store, err := db.OpenSQLiteStore(dbPath, dbtest.Params)
	require.NoError(t, err)

	return store
}
