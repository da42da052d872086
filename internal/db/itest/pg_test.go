//go:build itest && test_db_postgres

package itest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/btcsuite/hdaccount/internal/db/dbtest"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	// Shared container instance, reused across tests. Each test gets its
	// own database inside it.
	pgContainer *postgres.PostgresContainer

	pgContainerOnce sync.Once
	pgContainerErr  error

	// pgInitTimeout includes the image download time.
	pgInitTimeout = 2 * time.Minute

	pgTerminateTimeout = 1 * time.Minute

	pgNameRe = regexp.MustCompile(`[^a-z0-9_]`)
)

// TestMain terminates the shared postgres container once the suite is done.
func TestMain(m *testing.M) {
	code := m.Run()

	if pgContainer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), pgTerminateTimeout,
		)
		defer cancel()

		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("failed to terminate postgres container: %v\n", err)
		}
	}

	os.Exit(code)
}

// getPostgresContainer starts the shared container on first use.
func getPostgresContainer(ctx context.Context) (*postgres.PostgresContainer,
	error) {

	pgContainerOnce.Do(func() {
		pgContainer, pgContainerErr = postgres.RunContainer(ctx,
			testcontainers.WithImage("postgres:18-alpine"),
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategyAndDeadline(
				pgInitTimeout, wait.ForListeningPort("5432/tcp"),
			),
		)
	})

	return pgContainer, pgContainerErr
}

// sanitizedPgDBName converts a test name to a valid database name.
func sanitizedPgDBName(t *testing.T) string {
	dbName := pgNameRe.ReplaceAllString(strings.ToLower(t.Name()), "_")
	if len(dbName) > 63 {
		dbName = dbName[:63]
	}

	return dbName
}

// newStore creates a fresh, migrated database for the calling test.
func newStore(t *testing.T) db.Store {
	t.Helper()
	ctx := t.Context()

	container, err := getPostgresContainer(ctx)
	require.NoError(t, err, "failed to get postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	adminDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = adminDB.Close()
	})

	dbName := sanitizedPgDBName(t)
	_, err = adminDB.ExecContext(ctx, "CREATE DATABASE "+dbName)
	require.NoError(t, err, "failed to create test database")

	testConnStr := strings.Replace(connStr, "/postgres?", "/"+dbName+"?", 1)

	store, err := db.OpenPostgresStore(testConnStr, dbtest.Params)
	require.NoError(t, err)

	return store
}
