// Package migrations provides the SQL schema for the changeset store.
//
// To write a migration file, use the migrate-gen command:
//
//	go run github.com/getpup/pupstore/cmd/migrate-gen -adapter postgres -output migrations
//
// Or add a go generate directive to your code:
//
//	//go:generate go run github.com/getpup/pupstore/cmd/migrate-gen -adapter sqlite -output ../../migrations
//
// The SQL adapters can also apply the same statements directly (see sqlstore.Migrate).
package migrations

//go:generate go run ../../cmd/migrate-gen -adapter postgres -output example_migrations -filename example.sql
