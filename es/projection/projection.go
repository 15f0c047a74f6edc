// Package projection provides projection processing over the global order.
//
// A Processor pulls changesets in global index order, hands them to a
// Projection and records its progress in a store counter named
// "projection/<name>". The checkpoint only moves forward through
// AdvanceCounter, so two processors running the same projection cannot both
// commit the same batch: the loser gets ErrCheckpointConflict.
package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

var (
	// ErrProjectionStopped indicates the projection was stopped due to an error.
	ErrProjectionStopped = errors.New("projection stopped")

	// ErrCheckpointConflict indicates another processor advanced the same checkpoint.
	ErrCheckpointConflict = errors.New("projection checkpoint advanced concurrently")
)

// Projection defines the interface for changeset projection handlers.
type Projection interface {
	// Name returns the unique name of this projection.
	// This name is used for checkpoint tracking.
	Name() string

	// Handle processes a single changeset.
	// Return an error to stop projection processing.
	Handle(ctx context.Context, cs es.Changeset) error
}

// ScopedProjection is a Projection that only wants changesets carrying
// at least one of the listed event types.
type ScopedProjection interface {
	Projection

	// EventTypes returns the event types of interest. Empty means all.
	EventTypes() []string
}

// ProcessorRunner runs a projection until the context is canceled.
type ProcessorRunner interface {
	Run(ctx context.Context, projection Projection) error
}

// PartitionStrategy defines how changesets are partitioned across projection instances.
type PartitionStrategy interface {
	// ShouldProcess returns true if this projection instance should process
	// changesets of the given stream.
	ShouldProcess(streamID string, partitionKey int, totalPartitions int) bool
}

// HashPartitionStrategy assigns each stream to one partition by hashing its id,
// so a stream's changesets are always handled by the same instance, in order.
type HashPartitionStrategy struct{}

// ShouldProcess implements PartitionStrategy using xxHash.
func (HashPartitionStrategy) ShouldProcess(streamID string, partitionKey int, totalPartitions int) bool {
	if totalPartitions <= 1 {
		return true
	}
	partition := int(xxhash.Sum64String(streamID) % uint64(totalPartitions))
	return partition == partitionKey
}

// ProcessorConfig configures a projection processor.
type ProcessorConfig struct {
	// Logger is an optional logger. If nil, logging is disabled.
	Logger es.Logger

	// PartitionStrategy determines which changesets this processor handles
	PartitionStrategy PartitionStrategy

	// Retry bounds retries of transient storage errors
	Retry store.RetryPolicy

	// BatchSize is the number of changesets to read per batch
	BatchSize int

	// PartitionKey identifies this processor instance (0-indexed)
	PartitionKey int

	// TotalPartitions is the total number of processor instances
	TotalPartitions int

	// PollInterval is how long Run waits after an empty batch
	PollInterval time.Duration
}

// DefaultProcessorConfig returns the default configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PartitionStrategy: HashPartitionStrategy{},
		Retry:             store.DefaultRetryPolicy(),
		BatchSize:         100,
		PartitionKey:      0,
		TotalPartitions:   1,
		PollInterval:      500 * time.Millisecond,
	}
}

// Processor processes changesets for projections.
type Processor struct {
	store  store.Store
	config ProcessorConfig
}

var _ ProcessorRunner = (*Processor)(nil)

// NewProcessor creates a new projection processor.
func NewProcessor(s store.Store, config ProcessorConfig) *Processor {
	if config.PartitionStrategy == nil {
		config.PartitionStrategy = HashPartitionStrategy{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultProcessorConfig().BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultProcessorConfig().PollInterval
	}
	return &Processor{store: s, config: config}
}

// CheckpointName returns the counter that holds the projection's progress.
// Partitioned processors keep one checkpoint per partition.
func (p *Processor) CheckpointName(projection Projection) string {
	if p.config.TotalPartitions <= 1 {
		return "projection/" + projection.Name()
	}
	return fmt.Sprintf("projection/%s/%d-of-%d", projection.Name(), p.config.PartitionKey, p.config.TotalPartitions)
}

// Run processes changesets for the given projection until the context is cancelled.
// It reads batches, applies the partition filter, and advances the checkpoint.
// Returns ErrProjectionStopped if the projection handler or the store fails.
func (p *Processor) Run(ctx context.Context, projection Projection) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		n, err := p.ProcessBatch(ctx, projection)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrProjectionStopped, err)
		}

		// Drain quickly while there is work; back off when caught up.
		wait := time.Duration(0)
		if n == 0 {
			wait = p.config.PollInterval
		}
		timer.Reset(wait)
	}
}

// ProcessBatch handles the next batch after the checkpoint and returns how many
// changesets it read. Zero means the projection is caught up.
func (p *Processor) ProcessBatch(ctx context.Context, projection Projection) (int, error) {
	name := p.CheckpointName(projection)

	checkpoint, err := store.Do(ctx, p.config.Retry, func() (store.Counter, error) {
		return p.store.GetCounter(ctx, name)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	from := checkpoint.Value + 1
	changesets, err := store.Do(ctx, p.config.Retry, func() ([]es.Changeset, error) {
		return p.store.ReadGlobal(ctx, &from, nil, p.config.BatchSize)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read changesets: %w", err)
	}
	if len(changesets) == 0 {
		return 0, nil
	}

	eventTypes := scope(projection)
	var last int64
	handled := 0
	for i := range changesets {
		cs := changesets[i]
		last = cs.GlobalIndex

		if !p.config.PartitionStrategy.ShouldProcess(cs.StreamID, p.config.PartitionKey, p.config.TotalPartitions) {
			continue
		}
		if !matches(cs, eventTypes) {
			continue
		}
		if err := projection.Handle(ctx, cs); err != nil {
			return 0, fmt.Errorf("projection handler error at global index %d: %w", cs.GlobalIndex, err)
		}
		handled++
	}

	_, err = store.Do(ctx, p.config.Retry, func() (struct{}, error) {
		return struct{}{}, p.store.AdvanceCounter(ctx, name, checkpoint.Value, store.Counter{Value: last})
	})
	if errors.Is(err, store.ErrConditionFailed) {
		return 0, fmt.Errorf("%w: %s", ErrCheckpointConflict, name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update checkpoint: %w", err)
	}

	if p.config.Logger != nil {
		p.config.Logger.Debug(ctx, "projection batch processed",
			"projection", projection.Name(),
			"read", len(changesets),
			"handled", handled,
			"checkpoint", last)
	}
	return len(changesets), nil
}

func scope(projection Projection) map[string]bool {
	scoped, ok := projection.(ScopedProjection)
	if !ok {
		return nil
	}
	types := scoped.EventTypes()
	if len(types) == 0 {
		return nil
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

func matches(cs es.Changeset, eventTypes map[string]bool) bool {
	if eventTypes == nil {
		return true
	}
	for _, e := range cs.Events {
		if eventTypes[e.Type] {
			return true
		}
	}
	return false
}
