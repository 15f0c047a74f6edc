// Package globalindex assigns every changeset a position in the global order.
//
// The high-water mark lives in the store as the counter store.GlobalCounter,
// never in memory, so any number of indexers may run at once. Assignment is a
// fenced protocol over conditional writes:
//
//  1. Read the counter {h, ref}. If ref still lacks an index, write h to it
//     (roll forward a reservation whose owner may have stopped).
//  2. Re-read the candidate and skip it if it already has an index.
//  3. Advance the counter from h to {h+1, candidate}. Losing this race means
//     another indexer moved the frontier: start over from step 1.
//  4. Write h+1 to the candidate if it has no index.
//
// Because step 1 always completes the previous reservation before the next one
// can be made, index n is durable before n+1 is handed out. Values are therefore
// unique and increase in the order they become visible, and a visible index
// never changes.
package globalindex

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

var tracer = otel.Tracer("github.com/getpup/pupstore/es/globalindex")

// Config configures an Indexer.
type Config struct {
	// Logger is an optional logger. If nil, logging is disabled.
	Logger es.Logger

	// Retry bounds retries of transient storage errors
	Retry store.RetryPolicy

	// BatchSize is the number of unindexed changesets scanned at a time
	BatchSize int

	// MaxAttempts is how many times a single changeset is attempted per pass
	// before it is left for the next pass
	MaxAttempts int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Retry:       store.DefaultRetryPolicy(),
		BatchSize:   100,
		MaxAttempts: 16,
	}
}

// Result reports the outcome of a pass.
type Result struct {
	// Assigned is the number of changesets this pass gave an index to
	Assigned int
}

// Indexer assigns global indexes. It holds no state between calls.
type Indexer struct {
	store  store.Store
	config Config
}

// New creates an Indexer over the given store.
func New(s store.Store, config Config) *Indexer {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Indexer{store: s, config: config}
}

// AssignGlobalIndexes gives every changeset currently lacking a global index one.
// It is idempotent and safe to call concurrently and repeatedly. Contention is
// handled internally; only storage failures are returned.
func (ix *Indexer) AssignGlobalIndexes(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "globalindex.AssignGlobalIndexes")
	defer span.End()

	var result Result
	// Streams with a changeset left for the next pass. Their later changesets wait
	// too, so a stream's changesets enter the global order in changeset id order.
	deferred := make(map[string]bool)
	var cursor int64

	for {
		batch, err := store.Do(ctx, ix.config.Retry, func() ([]store.Unindexed, error) {
			return ix.store.ScanUnindexed(ctx, cursor, ix.config.BatchSize)
		})
		if err != nil {
			return result, ix.fail(ctx, span, fmt.Errorf("failed to scan unindexed changesets: %w", err), result)
		}

		for _, u := range batch {
			cursor = u.Seq
			if deferred[u.Ref.StreamID] {
				continue
			}

			out, err := ix.assign(ctx, u.Ref)
			if err != nil {
				return result, ix.fail(ctx, span, err, result)
			}
			switch out {
			case assigned:
				result.Assigned++
			case leftForNextPass:
				deferred[u.Ref.StreamID] = true
			}
		}

		// A short batch means the scan reached the end of the commit order.
		if len(batch) < ix.config.BatchSize {
			break
		}
	}

	span.SetAttributes(attribute.Int("assigned", result.Assigned))
	if ix.config.Logger != nil {
		ix.config.Logger.Info(ctx, "global index pass finished", "assigned", result.Assigned)
	}
	return result, nil
}

type outcome int

const (
	assigned outcome = iota + 1
	alreadyIndexed
	leftForNextPass
)

// assign runs the fenced protocol for one candidate.
func (ix *Indexer) assign(ctx context.Context, ref es.ChangesetRef) (outcome, error) {
	for attempt := 1; attempt <= ix.config.MaxAttempts; attempt++ {
		counter, err := store.Do(ctx, ix.config.Retry, func() (store.Counter, error) {
			return ix.store.GetCounter(ctx, store.GlobalCounter)
		})
		if err != nil {
			return 0, fmt.Errorf("failed to read high-water mark: %w", err)
		}

		if err := ix.rollForward(ctx, counter); err != nil {
			return 0, err
		}

		cs, err := store.Do(ctx, ix.config.Retry, func() (es.Changeset, error) {
			return ix.store.GetChangeset(ctx, ref)
		})
		if err != nil {
			return 0, fmt.Errorf("failed to read changeset %s/%d: %w", ref.StreamID, ref.ChangesetID, err)
		}
		if cs.Indexed() {
			return alreadyIndexed, nil
		}

		next := store.Counter{Value: counter.Value + 1, Ref: ref}
		_, err = store.Do(ctx, ix.config.Retry, func() (struct{}, error) {
			return struct{}{}, ix.store.AdvanceCounter(ctx, store.GlobalCounter, counter.Value, next)
		})
		if errors.Is(err, store.ErrConditionFailed) {
			if ix.config.Logger != nil {
				ix.config.Logger.Debug(ctx, "lost race for high-water mark",
					"stream_id", ref.StreamID,
					"changeset_id", ref.ChangesetID,
					"observed", counter.Value,
					"attempt", attempt)
			}
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to advance high-water mark: %w", err)
		}

		if err := ix.write(ctx, ref, next.Value); err != nil {
			return 0, err
		}
		if ix.config.Logger != nil {
			ix.config.Logger.Debug(ctx, "global index assigned",
				"stream_id", ref.StreamID,
				"changeset_id", ref.ChangesetID,
				"global_index", next.Value)
		}
		return assigned, nil
	}

	if ix.config.Logger != nil {
		ix.config.Logger.Info(ctx, "changeset left for next pass",
			"stream_id", ref.StreamID,
			"changeset_id", ref.ChangesetID,
			"attempts", ix.config.MaxAttempts)
	}
	return leftForNextPass, nil
}

// rollForward completes the reservation recorded in the counter.
func (ix *Indexer) rollForward(ctx context.Context, counter store.Counter) error {
	if counter.Ref.IsZero() {
		return nil
	}
	err := ix.write(ctx, counter.Ref, counter.Value)
	if err == nil && ix.config.Logger != nil {
		ix.config.Logger.Debug(ctx, "reservation rolled forward",
			"stream_id", counter.Ref.StreamID,
			"changeset_id", counter.Ref.ChangesetID,
			"global_index", counter.Value)
	}
	return err
}

// write sets the index if the changeset has none. A condition failure means the
// index is already in place (written by the owner or a helper) and is not an error.
func (ix *Indexer) write(ctx context.Context, ref es.ChangesetRef, index int64) error {
	_, err := store.Do(ctx, ix.config.Retry, func() (struct{}, error) {
		return struct{}{}, ix.store.SetGlobalIndex(ctx, ref, index)
	})
	if err == nil || errors.Is(err, store.ErrConditionFailed) {
		return nil
	}
	return fmt.Errorf("failed to write global index %d to %s/%d: %w", index, ref.StreamID, ref.ChangesetID, err)
}

func (ix *Indexer) fail(ctx context.Context, span trace.Span, err error, result Result) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if ix.config.Logger != nil {
		ix.config.Logger.Error(ctx, "global index pass failed",
			"assigned", result.Assigned,
			"error", err)
	}
	return err
}
