// Package store defines the conditional-write storage abstraction the engines run against.
//
// Every mutation is conditional: changesets are inserted only if their key is absent,
// a global index is written only if the changeset has none, and counters advance only
// from the value the caller last observed. Implementations must make each of these
// operations atomic and linearizable; the engines hold no locks of their own.
package store

import (
	"context"
	"errors"

	"github.com/getpup/pupstore/es"
)

var (
	// ErrConditionFailed indicates a conditional write found the precondition violated.
	// Nothing was written.
	ErrConditionFailed = errors.New("condition failed")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// GlobalCounter is the name of the counter holding the global high-water mark.
const GlobalCounter = "global_index"

// Counter is a named, monotonically advancing value.
// Ref records the changeset the current value was reserved for, if any.
type Counter struct {
	Ref   es.ChangesetRef
	Value int64
}

// ChangesetWriter persists new changesets.
type ChangesetWriter interface {
	// InsertChangeset writes the changeset only if no changeset exists at
	// (StreamID, ChangesetID). Returns ErrConditionFailed otherwise.
	InsertChangeset(ctx context.Context, cs *es.Changeset) error
}

// ChangesetReader reads changesets back.
type ChangesetReader interface {
	// LastChangesetID returns the highest changeset id of the stream, 0 if it has none.
	LastChangesetID(ctx context.Context, streamID string) (int64, error)

	// GetChangeset returns a single changeset or ErrNotFound.
	GetChangeset(ctx context.Context, ref es.ChangesetRef) (es.Changeset, error)

	// ReadStream returns the stream's changesets with from <= changeset_id <= to,
	// ascending. Nil bounds are open.
	ReadStream(ctx context.Context, streamID string, from, to *int64) ([]es.Changeset, error)

	// ReadGlobal returns indexed changesets with from <= global_index <= to,
	// ascending by global index, at most limit of them (limit <= 0 means no limit).
	ReadGlobal(ctx context.Context, from, to *int64, limit int) ([]es.Changeset, error)
}

// IndexStore supports the global indexer.
type IndexStore interface {
	// ScanUnindexed returns up to limit changesets lacking a global index whose
	// commit sequence is greater than after, ascending by commit sequence.
	// Pass the Seq of the last entry of a batch to continue past it.
	ScanUnindexed(ctx context.Context, after int64, limit int) ([]Unindexed, error)

	// SetGlobalIndex writes index to the changeset only if it has none.
	// Returns ErrConditionFailed if it already has one, ErrNotFound if it does not exist.
	SetGlobalIndex(ctx context.Context, ref es.ChangesetRef, index int64) error
}

// Unindexed is a changeset without a global index, with its position in commit order.
type Unindexed struct {
	Ref es.ChangesetRef
	Seq int64
}

// CounterStore holds named counters.
type CounterStore interface {
	// GetCounter returns the counter, or the zero Counter if it was never advanced.
	GetCounter(ctx context.Context, name string) (Counter, error)

	// AdvanceCounter replaces the counter with next only if its current value is expected
	// (an absent counter has value 0). next.Value must be greater than expected.
	// Returns ErrConditionFailed when the counter moved.
	AdvanceCounter(ctx context.Context, name string, expected int64, next Counter) error
}

// StatsReader computes aggregate statistics.
type StatsReader interface {
	Stats(ctx context.Context) (es.Stats, error)
}

// Store is the full storage abstraction implemented by every adapter.
type Store interface {
	ChangesetWriter
	ChangesetReader
	IndexStore
	CounterStore
	StatsReader
}
