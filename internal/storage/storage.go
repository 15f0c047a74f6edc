// Package storage opens the store.Store backend selected by configuration.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/adapters/memory"
	"github.com/getpup/pupstore/es/adapters/mysql"
	pebblestore "github.com/getpup/pupstore/es/adapters/pebble"
	"github.com/getpup/pupstore/es/adapters/postgres"
	"github.com/getpup/pupstore/es/adapters/sqlite"
	"github.com/getpup/pupstore/es/adapters/sqlstore"
	"github.com/getpup/pupstore/es/store"
	"github.com/getpup/pupstore/internal/config"
)

// Backend is an opened store together with the resources it holds.
type Backend struct {
	Store  store.Store
	Driver string
	close  func() error
}

// Close releases the backend's connections or files.
func (b *Backend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

type sqlDriver struct {
	open     func(ctx context.Context, dsn string) (*sql.DB, error)
	newStore func(db sqlstore.DB, config sqlstore.StoreConfig) *sqlstore.Store
	migrate  func(ctx context.Context, db sqlstore.DBTX, config sqlstore.StoreConfig) error
}

var sqlDrivers = map[string]sqlDriver{
	config.DriverSQLite:   {open: sqlite.Open, newStore: sqlite.NewStore, migrate: sqlite.Migrate},
	config.DriverPostgres: {open: postgres.Open, newStore: postgres.NewStore, migrate: postgres.Migrate},
	config.DriverMySQL:    {open: mysql.Open, newStore: mysql.NewStore, migrate: mysql.Migrate},
}

// Open opens the backend named by cfg.Driver. SQL backends create their schema
// first when cfg.AutoMigrate is set.
func Open(ctx context.Context, cfg config.StorageConfig, logger es.Logger) (*Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return &Backend{Store: memory.NewStore(), Driver: cfg.Driver}, nil

	case config.DriverPebble:
		s, err := pebblestore.Open(pebblestore.Options{Logger: logger, DataDir: cfg.DataDir})
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, Driver: cfg.Driver, close: s.Close}, nil
	}

	driver, ok := sqlDrivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	db, err := driver.open(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}

	storeConfig := sqlstore.NewStoreConfig(sqlstore.WithLogger(logger))
	if cfg.AutoMigrate {
		if err := driver.migrate(ctx, db, storeConfig); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate %s schema: %w", cfg.Driver, err)
		}
		if logger != nil {
			logger.Info(ctx, "schema ready", "driver", cfg.Driver)
		}
	}

	return &Backend{Store: driver.newStore(db, storeConfig), Driver: cfg.Driver, close: db.Close}, nil
}
