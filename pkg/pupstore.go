// Package pupstore is the entry point of the pupstore changeset event store.
//
// The store commits ordered batches of events (changesets) to named streams under
// optimistic concurrency control, and assigns every changeset a position in one
// global order for downstream projections:
//
//	es                  - Core types and errors
//	es/store            - Conditional-write storage abstraction
//	es/commit           - Stream append engine
//	es/globalindex      - Global indexer
//	es/query            - Stream and global range reads
//	es/command          - Command dispatch for transports
//	es/projection       - Checkpointed projections over the global order
//	es/adapters/...     - memory, sqlite, postgres, mysql, pebble backends
//	es/migrations       - SQL schema generation
//
// See the examples directory for complete working programs.
package pupstore

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}
