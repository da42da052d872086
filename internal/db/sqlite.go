package db

import (
	"database/sql"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"

	// Register the pure Go "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// NewSQLiteStore creates a new SQLite-based Store over a database that
// already has the SQLite migrations applied.
func NewSQLiteStore(db *sql.DB, params *chaincfg.Params) (*SQLStore, error) {
	return newSQLStore(db, dialectSQLite, params)
}

// SQLiteDSN returns the connection string used for a SQLite database file.
func SQLiteDSN(dbPath string) string {
	// Enable foreign keys (required for proper constraint enforcement).
	dsn := dbPath + "?_pragma=foreign_keys=on"

	// Enable WAL mode for better concurrency. WAL allows multiple readers and
	// reduces lock contention for concurrent writers.
	dsn += "&_pragma=journal_mode=WAL"

	// Enable immediate transaction locking to avoid races.
	dsn += "&_txlock=immediate"

	// Set busy timeout to 5 seconds. This makes SQLite retry acquiring locks
	// instead of immediately returning SQLITE_BUSY errors.
	return dsn + "&_pragma=busy_timeout=5000"
}

// OpenSQLiteStore opens, or creates, the SQLite database at dbPath, applies
// the migrations and returns a store over it.
func OpenSQLiteStore(dbPath string, params *chaincfg.Params) (*SQLStore,
	error) {

	dbConn, err := sql.Open("sqlite", SQLiteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := ApplySQLiteMigrations(dbConn); err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	log.Debugf("Opened sqlite store at %s", dbPath)

	return NewSQLiteStore(dbConn, params)
}
