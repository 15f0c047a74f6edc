package sqlstore

import (
	"context"
	"fmt"

	"github.com/getpup/pupstore/es/migrations"
)

// Migrate creates the store's tables and indexes if they do not exist.
func Migrate(ctx context.Context, db DBTX, dialect Dialect, config StoreConfig) error {
	mc := migrations.Config{
		ChangesetsTable: config.ChangesetsTable,
		EventsTable:     config.EventsTable,
		CountersTable:   config.CountersTable,
	}
	stmts, err := migrations.Statements(dialect.Name(), &mc)
	if err != nil {
		return err
	}

	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration statement %d: %w", i+1, err)
		}
	}

	if config.Logger != nil {
		config.Logger.Info(ctx, "schema migrated",
			"dialect", dialect.Name(),
			"statements", len(stmts))
	}
	return nil
}
