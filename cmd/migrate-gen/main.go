// Command migrate-gen generates SQL migration files for the changeset store.
//
// Usage:
//
//	go run github.com/getpup/pupstore/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/pupstore/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/pupstore/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/pupstore/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/pupstore/cmd/migrate-gen -adapter sqlite -output migrations
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/pupstore/es/migrations"
)

func main() {
	var (
		adapter         = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder    = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename  = flag.String("filename", "", "Output filename (default: timestamp-based)")
		changesetsTable = flag.String("changesets-table", "changesets", "Name of changesets table")
		eventsTable     = flag.String("events-table", "changeset_events", "Name of changeset events table")
		countersTable   = flag.String("counters-table", "counters", "Name of counters table")
	)

	flag.Parse()

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.ChangesetsTable = *changesetsTable
	config.EventsTable = *eventsTable
	config.CountersTable = *countersTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	var err error
	switch *adapter {
	case migrations.Postgres:
		err = migrations.GeneratePostgres(&config)
	case migrations.MySQL:
		err = migrations.GenerateMySQL(&config)
	case migrations.SQLite:
		err = migrations.GenerateSQLite(&config)
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported adapter '%s'. Supported adapters are: postgres, mysql, sqlite\n", *adapter)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
}
