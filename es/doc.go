// Package es provides the core types of the changeset event store.
//
// # Overview
//
// Clients commit changesets (ordered batches of events) to named streams and
// read them back per stream or in one global order:
//   - Changeset: the unit of commit, keyed by (stream_id, changeset_id)
//   - Event: a typed payload inside a changeset
//   - ExpectedVersion: the optimistic-concurrency expectation of an append
//   - Logger: optional logging surface shared by every component
//
// # Design Philosophy
//
// Conditional writes only: no component holds an in-process lock across a
// read and a write. Every engine is correct when several instances run
// against the same storage, because correctness rests on insert-if-absent and
// compare-and-set operations of the backend (see the store package).
//
// Immutability: a changeset never changes after it is written, except that
// its global index goes from absent to assigned exactly once.
//
// # Quick Start
//
// 1. Open a backend (sqlite shown; memory, postgres, mysql and pebble work the same):
//
//	db, _ := sqlite.Open(ctx, "pupstore.db")
//	_ = sqlite.Migrate(ctx, db, sqlstore.DefaultStoreConfig())
//	s := sqlite.NewStore(db, sqlstore.DefaultStoreConfig())
//
// 2. Append:
//
//	appender := commit.NewAppender(s, commit.DefaultConfig())
//	res, err := appender.Append(ctx, "order-42", es.NoStream(),
//	    []es.Event{{Type: "OrderCreated", Payload: payload}}, nil)
//
// 3. Assign global indexes, synchronously or with a Sweeper:
//
//	indexer := globalindex.New(s, globalindex.DefaultConfig())
//	_, err = indexer.AssignGlobalIndexes(ctx)
//
// 4. Read or project:
//
//	reader := query.NewReader(s, query.DefaultConfig())
//	changesets, err := reader.ReadGlobal(ctx, nil, nil, 100)
//
// # Optimistic Concurrency
//
// An append names the last changeset id it expects the stream to have:
//   - Exact(n) succeeds only if the stream's last changeset id is n
//   - NoStream() is Exact(0): the stream must not exist yet
//   - Any() appends after whatever is there
//
// A conflict returns a *VersionConflictError carrying the expected and actual
// ids. Appends with Any() that lose a race for the next id are retried
// internally; appends with an expectation are not.
//
// # Global Order
//
// The global indexer gives every changeset a global index after the fact.
// Indexes are unique and strictly increasing in durable assignment order, and
// consumers must tolerate gaps.
//
// # Projections
//
// Projections read the global order in batches and track their progress in a
// store counter. They can be partitioned by stream id and resumed after
// failure. See the projection package for details.
package es
