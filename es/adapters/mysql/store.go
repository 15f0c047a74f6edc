// Package mysql provides the MySQL/MariaDB dialect for the SQL changeset store.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"

	"github.com/getpup/pupstore/es/adapters/sqlstore"
	"github.com/getpup/pupstore/es/migrations"
)

// Dialect implements sqlstore.Dialect for MySQL and MariaDB.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

// Name implements sqlstore.Dialect.
func (Dialect) Name() string { return migrations.MySQL }

// Placeholder implements sqlstore.Dialect.
func (Dialect) Placeholder() sq.PlaceholderFormat { return sq.Question }

// IsUniqueViolation implements sqlstore.Dialect.
func (Dialect) IsUniqueViolation(err error) bool { return IsUniqueViolation(err) }

// Open opens a MySQL database and verifies the connection.
//
// The DSN is normalised so that UPDATE reports changed rows rather than matched
// rows; the conditional updates of the store depend on it.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = false

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}
	return db, nil
}

// NewStore creates a MySQL-backed changeset store.
func NewStore(db sqlstore.DB, config sqlstore.StoreConfig) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, config)
}

// Migrate creates the MySQL schema if it does not exist.
func Migrate(ctx context.Context, db sqlstore.DBTX, config sqlstore.StoreConfig) error {
	return sqlstore.Migrate(ctx, db, Dialect{}, config)
}

// IsUniqueViolation checks if an error is a MySQL unique constraint violation.
// This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	// Check if it's a MySQL error with duplicate entry code (1062)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062 // ER_DUP_ENTRY
	}

	// Fallback: check error message for common patterns
	errMsg := err.Error()
	return strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "duplicate key") ||
		strings.Contains(errMsg, "unique constraint")
}
