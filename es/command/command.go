// Package command is the closed set of operations the store exposes to a transport.
//
// Each operation is a variant of the sealed Command interface. A transport builds a
// variant and calls Dispatch; the variant calls the matching Handlers method. Adding a
// variant means adding a Handlers method, so every implementation stops compiling until
// it handles the new operation.
package command

import (
	"context"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/globalindex"
	"github.com/getpup/pupstore/es/query"
)

// Command is one request to the store.
type Command interface {
	dispatch(ctx context.Context, h Handlers) (any, error)
}

// Handlers handles every Command variant.
type Handlers interface {
	Version(ctx context.Context, cmd Version) (VersionResult, error)
	Stats(ctx context.Context, cmd Stats) (es.Stats, error)
	Commit(ctx context.Context, cmd Commit) (es.CommitResult, error)
	FetchStreamChangesets(ctx context.Context, cmd FetchStreamChangesets) (query.StreamChangesets, error)
	FetchStreamEvents(ctx context.Context, cmd FetchStreamEvents) (query.StreamEvents, error)
	FetchGlobalChangesets(ctx context.Context, cmd FetchGlobalChangesets) ([]es.Changeset, error)
	AssignGlobalIndexes(ctx context.Context, cmd AssignGlobalIndexes) (globalindex.Result, error)
}

// Dispatch routes cmd to its handler and returns the handler's result.
func Dispatch(ctx context.Context, h Handlers, cmd Command) (any, error) {
	return cmd.dispatch(ctx, h)
}

// Version asks for the running version.
type Version struct{}

// VersionResult carries the running version.
type VersionResult struct {
	Version string
}

// Stats asks for aggregate statistics.
type Stats struct{}

// Commit appends a changeset.
type Commit struct {
	StreamID string
	Expected es.ExpectedVersion
	Events   []es.Event
	Metadata []byte
}

// FetchStreamChangesets reads a stream's changesets in a changeset id range.
type FetchStreamChangesets struct {
	From     *int64
	To       *int64
	StreamID string
}

// FetchStreamEvents reads a stream's events in a changeset id range.
type FetchStreamEvents struct {
	From     *int64
	To       *int64
	StreamID string
}

// FetchGlobalChangesets reads the global order in a global index range.
type FetchGlobalChangesets struct {
	From  *int64
	To    *int64
	Limit int
}

// AssignGlobalIndexes runs one indexing pass.
type AssignGlobalIndexes struct{}

func (c Version) dispatch(ctx context.Context, h Handlers) (any, error) {
	return h.Version(ctx, c)
}

func (c Stats) dispatch(ctx context.Context, h Handlers) (any, error) {
	return h.Stats(ctx, c)
}

func (c Commit) dispatch(ctx context.Context, h Handlers) (any, error) {
	return h.Commit(ctx, c)
}

func (c FetchStreamChangesets) dispatch(ctx context.Context, h Handlers) (any, error) {
	return h.FetchStreamChangesets(ctx, c)
}

func (c FetchStreamEvents) dispatch(ctx context.Context, h Handlers) (any, error) {
	return h.FetchStreamEvents(ctx, c)
}

func (c FetchGlobalChangesets) dispatch(ctx context.Context, h Handlers) (any, error) {
	return h.FetchGlobalChangesets(ctx, c)
}

func (c AssignGlobalIndexes) dispatch(ctx context.Context, h Handlers) (any, error) {
	return h.AssignGlobalIndexes(ctx, c)
}
