package globalindex

import (
	"context"
	"time"
)

// Sweeper runs indexing passes on a fixed interval. It is the out-of-band
// alternative to indexing synchronously after every commit.
type Sweeper struct {
	indexer  *Indexer
	interval time.Duration
}

// NewSweeper creates a Sweeper. A non-positive interval defaults to one second.
func NewSweeper(indexer *Indexer, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{indexer: indexer, interval: interval}
}

// Run performs a pass immediately and then once per interval until ctx is canceled.
// Failed passes are logged and retried on the next tick; Run only returns ctx.Err().
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		// Errors are logged by the indexer; the changesets are picked up next tick.
		_, _ = s.indexer.AssignGlobalIndexes(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
