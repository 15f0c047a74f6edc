// Package query provides the read side: range reads over a stream or the global order.
package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

var tracer = otel.Tracer("github.com/getpup/pupstore/es/query")

// Config configures a Reader.
type Config struct {
	// Logger is an optional logger. If nil, logging is disabled.
	Logger es.Logger

	// Retry bounds retries of transient storage errors
	Retry store.RetryPolicy

	// DefaultLimit applies to global reads that do not set a limit
	DefaultLimit int

	// MaxLimit caps the limit of global reads
	MaxLimit int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Retry:        store.DefaultRetryPolicy(),
		DefaultLimit: 100,
		MaxLimit:     1000,
	}
}

// StreamChangesets is the result of a stream read.
type StreamChangesets struct {
	StreamID   string
	Changesets []es.Changeset
}

// StreamEvents is the result of a stream event read.
type StreamEvents struct {
	StreamID string
	Events   []es.StreamEvent
}

// Reader serves range reads. It never writes.
type Reader struct {
	store  store.Store
	config Config
}

// NewReader creates a Reader.
func NewReader(s store.Store, config Config) *Reader {
	return &Reader{store: s, config: config}
}

// ReadStream returns the stream's changesets with from <= changeset_id <= to, ascending.
//
// An empty result is ambiguous, so it is resolved against the stream's last changeset:
// a stream that was never committed to yields es.ErrStreamNotFound, while a filter that
// simply matched nothing on an existing stream yields an empty list.
func (r *Reader) ReadStream(ctx context.Context, streamID string, from, to *int64) (StreamChangesets, error) {
	if streamID == "" {
		return StreamChangesets{}, es.ErrMissingStreamID
	}
	if err := es.ValidateRange(from, to); err != nil {
		return StreamChangesets{}, err
	}

	ctx, span := tracer.Start(ctx, "query.ReadStream")
	defer span.End()
	span.SetAttributes(attribute.String("stream_id", streamID))

	if r.config.Logger != nil {
		r.config.Logger.Debug(ctx, "reading stream",
			"stream_id", streamID,
			"from", from,
			"to", to)
	}

	changesets, err := store.Do(ctx, r.config.Retry, func() ([]es.Changeset, error) {
		return r.store.ReadStream(ctx, streamID, from, to)
	})
	if err != nil {
		return StreamChangesets{}, fmt.Errorf("failed to read stream: %w", err)
	}

	if len(changesets) == 0 {
		last, err := store.Do(ctx, r.config.Retry, func() (int64, error) {
			return r.store.LastChangesetID(ctx, streamID)
		})
		if err != nil {
			return StreamChangesets{}, fmt.Errorf("failed to read last changeset: %w", err)
		}
		if last == 0 {
			return StreamChangesets{}, es.ErrStreamNotFound
		}
	}

	span.SetAttributes(attribute.Int("changeset_count", len(changesets)))
	return StreamChangesets{StreamID: streamID, Changesets: changesets}, nil
}

// ReadStreamEvents returns the events of the selected changesets flattened in order,
// each tagged with its changeset id.
func (r *Reader) ReadStreamEvents(ctx context.Context, streamID string, from, to *int64) (StreamEvents, error) {
	page, err := r.ReadStream(ctx, streamID, from, to)
	if err != nil {
		return StreamEvents{}, err
	}

	var events []es.StreamEvent
	for i := range page.Changesets {
		cs := &page.Changesets[i]
		for _, e := range cs.Events {
			events = append(events, es.StreamEvent{ChangesetID: cs.ChangesetID, Event: e})
		}
	}
	return StreamEvents{StreamID: streamID, Events: events}, nil
}

// ReadGlobal returns indexed changesets with from <= global_index <= to, ascending by
// global index. Consumers must not assume the indexes are contiguous.
func (r *Reader) ReadGlobal(ctx context.Context, from, to *int64, limit int) ([]es.Changeset, error) {
	if err := es.ValidateRange(from, to); err != nil {
		return nil, err
	}
	limit = r.clampLimit(limit)

	ctx, span := tracer.Start(ctx, "query.ReadGlobal")
	defer span.End()

	changesets, err := store.Do(ctx, r.config.Retry, func() ([]es.Changeset, error) {
		return r.store.ReadGlobal(ctx, from, to, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read global order: %w", err)
	}

	span.SetAttributes(attribute.Int("changeset_count", len(changesets)))
	return changesets, nil
}

// Stats returns aggregate statistics over the store.
func (r *Reader) Stats(ctx context.Context) (es.Stats, error) {
	stats, err := store.Do(ctx, r.config.Retry, func() (es.Stats, error) {
		return r.store.Stats(ctx)
	})
	if err != nil {
		return es.Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

func (r *Reader) clampLimit(limit int) int {
	if limit <= 0 {
		limit = r.config.DefaultLimit
	}
	if r.config.MaxLimit > 0 && limit > r.config.MaxLimit {
		limit = r.config.MaxLimit
	}
	return limit
}

// ParseBound parses an optional integer range bound. An empty string means no bound.
// Anything that is not an integer yields es.ErrInvalidFilterType.
func ParseBound(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", es.ErrInvalidFilterType, raw)
	}
	return &v, nil
}
