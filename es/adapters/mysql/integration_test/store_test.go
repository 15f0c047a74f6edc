// Package integration_test contains integration tests for the MySQL adapter.
// These tests start MySQL in a container and skip when no container runtime
// is available. Set MYSQL_DSN to use an existing database instead.
//
// Run with: go test -tags=integration ./es/adapters/mysql/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/getpup/pupstore/es/adapters/mysql"
	"github.com/getpup/pupstore/es/adapters/sqlstore"
	"github.com/getpup/pupstore/es/store"
	"github.com/getpup/pupstore/es/store/storetest"
)

func runMySQL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		return dsn
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.4",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "password",
			"MYSQL_DATABASE":      "pupstore_test",
		},
		WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").
			WithStartupTimeout(120 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("mysql container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("root:password@tcp(%s:%s)/pupstore_test", host, port.Port())
}

func TestConformance(t *testing.T) {
	dsn := runMySQL(t)
	ctx := context.Background()

	db, err := mysql.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var n atomic.Int32
	storetest.Run(t, func(t *testing.T) store.Store {
		return newStore(t, db, fmt.Sprintf("t%d", n.Add(1)))
	})
}

func newStore(t *testing.T, db *sql.DB, prefix string) store.Store {
	t.Helper()
	config := sqlstore.NewStoreConfig(
		sqlstore.WithChangesetsTable(prefix+"_changesets"),
		sqlstore.WithEventsTable(prefix+"_changeset_events"),
		sqlstore.WithCountersTable(prefix+"_counters"),
	)
	if err := mysql.Migrate(context.Background(), db, config); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		for _, table := range []string{config.ChangesetsTable, config.EventsTable, config.CountersTable} {
			_, _ = db.Exec("DROP TABLE IF EXISTS " + table)
		}
	})
	return mysql.NewStore(db, config)
}

func TestIsUniqueViolation(t *testing.T) {
	dsn := runMySQL(t)
	ctx := context.Background()

	db, err := mysql.Open(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	newStore(t, db, "uv")
	insert := `INSERT INTO uv_counters (name, value) VALUES ('c', 1)`
	if _, err := db.ExecContext(ctx, insert); err != nil {
		t.Fatal(err)
	}
	_, err = db.ExecContext(ctx, insert)
	if !mysql.IsUniqueViolation(err) {
		t.Errorf("expected unique violation, got %v", err)
	}
}
