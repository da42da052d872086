package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// migrationDir is the directory of the embedded schema of a dialect.
func (d dialect) migrationDir() string {
	return "migrations/" + d.String()
}

// migrationDriver wraps db for golang-migrate.
func (d dialect) migrationDriver(db *sql.DB) (database.Driver, error) {
	if d == dialectPostgres {
		return postgres.WithInstance(db, &postgres.Config{})
	}

	return sqlite.WithInstance(db, &sqlite.Config{})
}

// migrateUp brings the schema of db to the latest embedded version.
func migrateUp(db *sql.DB, d dialect) error {
	source, err := iofs.New(migrationFS, d.migrationDir())
	if err != nil {
		return newError(ErrMigration, "open embedded schema", err)
	}

	driver, err := d.migrationDriver(db)
	if err != nil {
		return newError(ErrMigration,
			fmt.Sprintf("create %v migration driver", d), err)
	}

	m, err := migrate.NewWithInstance("iofs", source, d.String(), driver)
	if err != nil {
		return newError(ErrMigration, "create migrator", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return newError(ErrMigration, "apply migrations", err)
	}

	if version, dirty, err := m.Version(); err == nil {
		log.Debugf("%v schema at version %d (dirty=%v)", d, version,
			dirty)
	}

	return nil
}

// ApplySQLiteMigrations brings a SQLite database to the latest schema.
func ApplySQLiteMigrations(db *sql.DB) error {
	return migrateUp(db, dialectSQLite)
}

// ApplyPostgresMigrations brings a PostgreSQL database to the latest schema.
func ApplyPostgresMigrations(db *sql.DB) error {
	return migrateUp(db, dialectPostgres)
}
