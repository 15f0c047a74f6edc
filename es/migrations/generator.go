package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Supported SQL dialects.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// ChangesetsTable is the name of the changesets table
	ChangesetsTable string

	// EventsTable is the name of the table holding each changeset's events
	EventsTable string

	// CountersTable is the name of the conditional counters table
	// (global high-water mark and projection checkpoints)
	CountersTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:    "migrations",
		OutputFilename:  fmt.Sprintf("%s_init_changeset_store.sql", timestamp),
		ChangesetsTable: "changesets",
		EventsTable:     "changeset_events",
		CountersTable:   "counters",
	}
}

// Statements returns the DDL statements for a dialect, one statement per element,
// in the order they must run. Every statement is idempotent.
func Statements(dialect string, config *Config) ([]string, error) {
	switch dialect {
	case Postgres:
		return postgresStatements(config), nil
	case MySQL:
		return mysqlStatements(config), nil
	case SQLite:
		return sqliteStatements(config), nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q (supported: postgres, mysql, sqlite)", dialect)
	}
}

// SQL renders a complete migration script for a dialect.
func SQL(dialect string, config *Config) (string, error) {
	stmts, err := Statements(dialect, config)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- Changeset store migration (%s)\n", dialect)
	fmt.Fprintf(&b, "-- Generated: %s\n", time.Now().Format(time.RFC3339))
	b.WriteString("--\n")
	b.WriteString("-- Payloads and metadata are stored as opaque bytes so they round-trip exactly.\n")
	b.WriteString("-- committed_at holds Unix nanoseconds (UTC).\n")
	for _, stmt := range stmts {
		b.WriteString("\n")
		b.WriteString(stmt)
		b.WriteString(";\n")
	}
	return b.String(), nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return generate(Postgres, config)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return generate(SQLite, config)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return generate(MySQL, config)
}

func generate(dialect string, config *Config) error {
	sql, err := SQL(dialect, config)
	if err != nil {
		return err
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

func postgresStatements(config *Config) []string {
	cs, ev, ct := config.ChangesetsTable, config.EventsTable, config.CountersTable
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    commit_seq BIGSERIAL PRIMARY KEY,
    stream_id TEXT NOT NULL,
    changeset_id BIGINT NOT NULL,
    commit_id TEXT NOT NULL,
    metadata BYTEA,
    committed_at BIGINT NOT NULL,
    global_index BIGINT UNIQUE,
    event_count INT NOT NULL,

    -- Conditional append: one row per (stream, changeset id)
    UNIQUE (stream_id, changeset_id)
)`, cs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_unindexed
    ON %s (commit_seq) WHERE global_index IS NULL`, cs, cs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    stream_id TEXT NOT NULL,
    changeset_id BIGINT NOT NULL,
    event_seq INT NOT NULL,
    event_type TEXT NOT NULL,
    payload BYTEA,

    PRIMARY KEY (stream_id, changeset_id, event_seq)
)`, ev),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    value BIGINT NOT NULL,
    ref_stream_id TEXT NOT NULL DEFAULT '',
    ref_changeset_id BIGINT NOT NULL DEFAULT 0
)`, ct),
	}
}

func mysqlStatements(config *Config) []string {
	cs, ev, ct := config.ChangesetsTable, config.EventsTable, config.CountersTable
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    commit_seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    stream_id VARCHAR(255) NOT NULL,
    changeset_id BIGINT NOT NULL,
    commit_id CHAR(36) NOT NULL,
    metadata LONGBLOB,
    committed_at BIGINT NOT NULL,
    global_index BIGINT NULL,
    event_count INT NOT NULL,

    UNIQUE KEY uq_%s_stream (stream_id, changeset_id),
    UNIQUE KEY uq_%s_global (global_index)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`, cs, cs, cs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    stream_id VARCHAR(255) NOT NULL,
    changeset_id BIGINT NOT NULL,
    event_seq INT NOT NULL,
    event_type VARCHAR(255) NOT NULL,
    payload LONGBLOB,

    PRIMARY KEY (stream_id, changeset_id, event_seq)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`, ev),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name VARCHAR(255) NOT NULL PRIMARY KEY,
    value BIGINT NOT NULL,
    ref_stream_id VARCHAR(255) NOT NULL DEFAULT '',
    ref_changeset_id BIGINT NOT NULL DEFAULT 0
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`, ct),
	}
}

func sqliteStatements(config *Config) []string {
	cs, ev, ct := config.ChangesetsTable, config.EventsTable, config.CountersTable
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    commit_seq INTEGER PRIMARY KEY AUTOINCREMENT,
    stream_id TEXT NOT NULL,
    changeset_id INTEGER NOT NULL,
    commit_id TEXT NOT NULL,
    metadata BLOB,
    committed_at INTEGER NOT NULL,
    global_index INTEGER UNIQUE,
    event_count INTEGER NOT NULL,

    UNIQUE (stream_id, changeset_id)
)`, cs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_unindexed
    ON %s (commit_seq) WHERE global_index IS NULL`, cs, cs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    stream_id TEXT NOT NULL,
    changeset_id INTEGER NOT NULL,
    event_seq INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    payload BLOB,

    PRIMARY KEY (stream_id, changeset_id, event_seq)
)`, ev),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    value INTEGER NOT NULL,
    ref_stream_id TEXT NOT NULL DEFAULT '',
    ref_changeset_id INTEGER NOT NULL DEFAULT 0
)`, ct),
	}
}
