// Package sqlite provides the SQLite dialect for the SQL changeset store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/getpup/pupstore/es/adapters/sqlstore"
	"github.com/getpup/pupstore/es/migrations"
)

// Dialect implements sqlstore.Dialect for SQLite.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

// Name implements sqlstore.Dialect.
func (Dialect) Name() string { return migrations.SQLite }

// Placeholder implements sqlstore.Dialect.
func (Dialect) Placeholder() sq.PlaceholderFormat { return sq.Question }

// IsUniqueViolation implements sqlstore.Dialect.
func (Dialect) IsUniqueViolation(err error) bool { return IsUniqueViolation(err) }

// Open opens a SQLite database file with WAL journaling and a busy timeout so
// concurrent writers wait for the lock instead of failing. An in-memory database
// is limited to one connection, since every connection would get its own.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if strings.HasPrefix(path, ":memory:") || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	return db, nil
}

// NewStore creates a SQLite-backed changeset store.
func NewStore(db sqlstore.DB, config sqlstore.StoreConfig) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, config)
}

// Migrate creates the SQLite schema if it does not exist.
func Migrate(ctx context.Context, db sqlstore.DBTX, config sqlstore.StoreConfig) error {
	return sqlstore.Migrate(ctx, db, Dialect{}, config)
}

// IsUniqueViolation checks if an error is a SQLite unique constraint violation.
// This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}

	// SQLite error messages for unique constraint violations
	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed")
}
