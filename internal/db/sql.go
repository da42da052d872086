// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// dialect selects the SQL flavour of a SQLStore.
type dialect uint8

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// String returns the name of the dialect.
func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}

	return "sqlite"
}

// SQLStore is the database/sql implementation of the Store interface. The
// same queries serve SQLite and PostgreSQL: statements are written with `?`
// placeholders and rebound to `$n` for PostgreSQL.
type SQLStore struct {
	db          *sql.DB
	dialect     dialect
	chainParams *chaincfg.Params
}

// A compile-time check to ensure that SQLStore implements the Store
// interface.
var _ Store = (*SQLStore)(nil)

// newSQLStore creates a store over an already migrated database.
func newSQLStore(db *sql.DB, d dialect,
	params *chaincfg.Params) (*SQLStore, error) {

	if db == nil {
		return nil, ErrNilDB
	}
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	return &SQLStore{
		db:          db,
		dialect:     d,
		chainParams: params,
	}, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string,
		args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string,
		args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs statements against a querier, rebinding placeholders to the
// store's dialect.
type queries struct {
	q       querier
	dialect dialect
}

func (q *queries) exec(ctx context.Context, query string,
	args ...any) (sql.Result, error) {

	return q.q.ExecContext(ctx, rebind(q.dialect, query), args...)
}

func (q *queries) query(ctx context.Context, query string,
	args ...any) (*sql.Rows, error) {

	return q.q.QueryContext(ctx, rebind(q.dialect, query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string,
	args ...any) *sql.Row {

	return q.q.QueryRowContext(ctx, rebind(q.dialect, query), args...)
}

// readQueries returns queries that run outside of a transaction.
func (s *SQLStore) readQueries() *queries {
	return &queries{q: s.db, dialect: s.dialect}
}

// ExecuteTx executes a function within a database transaction. The function
// receives a transactional query executor and should perform all database
// operations using it. The transaction will be automatically committed on
// success or rolled back on error.
func (s *SQLStore) ExecuteTx(ctx context.Context,
	fn func(*queries) error) error {

	return execInTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&queries{q: tx, dialect: s.dialect})
	})
}

// execInTx runs fn inside a database transaction.
func execInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return newError(ErrDatabase, "begin transaction", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Errorf("Unable to rollback transaction: %v", rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return newError(ErrDatabase, "commit transaction", err)
	}

	return nil
}

// rebind rewrites `?` placeholders into the positional form used by the
// dialect.
func rebind(d dialect, query string) string {
	if d != dialectPostgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 16)
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}

		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}

// placeholders returns n comma separated `?` placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}

	return strings.Repeat("?, ", n-1) + "?"
}

// dbErr wraps a driver error with the statement that produced it.
func dbErr(op string, err error) error {
	return newError(ErrDatabase, fmt.Sprintf("%s failed", op), err)
}
