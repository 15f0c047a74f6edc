// Package postgres provides the PostgreSQL dialect for the SQL changeset store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/getpup/pupstore/es/adapters/sqlstore"
	"github.com/getpup/pupstore/es/migrations"
)

// Dialect implements sqlstore.Dialect for PostgreSQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

// Name implements sqlstore.Dialect.
func (Dialect) Name() string { return migrations.Postgres }

// Placeholder implements sqlstore.Dialect.
func (Dialect) Placeholder() sq.PlaceholderFormat { return sq.Dollar }

// IsUniqueViolation implements sqlstore.Dialect.
func (Dialect) IsUniqueViolation(err error) bool { return IsUniqueViolation(err) }

// Open opens a PostgreSQL database with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// NewStore creates a PostgreSQL-backed changeset store.
func NewStore(db sqlstore.DB, config sqlstore.StoreConfig) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, config)
}

// Migrate creates the PostgreSQL schema if it does not exist.
func Migrate(ctx context.Context, db sqlstore.DBTX, config sqlstore.StoreConfig) error {
	return sqlstore.Migrate(ctx, db, Dialect{}, config)
}

// IsUniqueViolation checks if an error is a PostgreSQL unique constraint violation.
// This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	// Check if it's a pq.Error with unique_violation code (23505)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}

	// Fallback: check error message for common patterns
	errMsg := err.Error()
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "unique constraint")
}
