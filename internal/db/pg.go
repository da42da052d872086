package db

import (
	"database/sql"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"

	// Register the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgresStore creates a new PostgreSQL-based Store over a database
// that already has the PostgreSQL migrations applied.
func NewPostgresStore(db *sql.DB, params *chaincfg.Params) (*SQLStore,
	error) {

	return newSQLStore(db, dialectPostgres, params)
}

// OpenPostgresStore connects to the PostgreSQL database described by dsn,
// applies the migrations and returns a store over it.
func OpenPostgresStore(dsn string, params *chaincfg.Params) (*SQLStore,
	error) {

	dbConn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	if err := ApplyPostgresMigrations(dbConn); err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	log.Debugf("Opened postgres store")

	return NewPostgresStore(dbConn, params)
}
