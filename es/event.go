// Package es provides the core types of the changeset event store.
package es

import (
	"time"

	"github.com/google/uuid"
)

// Event is a single domain event inside a changeset.
// Events have no identity outside the changeset that carries them.
type Event struct {
	// Type is the event type tag
	Type string

	// Payload is the caller's structured value, stored and returned verbatim
	Payload []byte
}

// ChangesetRef identifies a changeset by its stream and per-stream sequence number.
type ChangesetRef struct {
	StreamID    string
	ChangesetID int64
}

// IsZero reports whether the ref points at no changeset.
func (r ChangesetRef) IsZero() bool {
	return r.StreamID == "" && r.ChangesetID == 0
}

// Changeset is the unit of commit: an ordered batch of events appended to one stream.
// A changeset is immutable once written. Only GlobalIndex transitions, once,
// from absent (zero) to its assigned position in the global order.
type Changeset struct {
	// CommittedAt is when the append engine produced the changeset (UTC)
	CommittedAt time.Time

	// StreamID identifies the owning stream
	StreamID string

	// Events is the non-empty ordered list of events
	Events []Event

	// Metadata is the caller-supplied mapping, stored verbatim and never interpreted
	Metadata []byte

	// ChangesetID is the per-stream sequence number, contiguous from 1
	ChangesetID int64

	// GlobalIndex is the position in the global order.
	// Zero until the global indexer assigns it.
	GlobalIndex int64

	// CommitID identifies the Append call that produced the changeset.
	// Internal retries of the same call reuse it.
	CommitID uuid.UUID
}

// Ref returns the key of the changeset.
func (c *Changeset) Ref() ChangesetRef {
	return ChangesetRef{StreamID: c.StreamID, ChangesetID: c.ChangesetID}
}

// Indexed reports whether the changeset has a global index.
func (c *Changeset) Indexed() bool {
	return c.GlobalIndex > 0
}

// CommitResult is returned by a successful append.
type CommitResult struct {
	StreamID    string
	ChangesetID int64
}

// StreamEvent is an event flattened out of its changeset, as returned by stream event reads.
type StreamEvent struct {
	ChangesetID int64
	Event       Event
}

// Stats summarizes the content of the store.
type Stats struct {
	TotalStreams    int64
	TotalChangesets int64
	TotalEvents     int64
	// MaxGlobalIndex is the highest assigned global index, zero when none
	MaxGlobalIndex int64
}
