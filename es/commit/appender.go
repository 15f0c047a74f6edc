// Package commit implements the stream append engine.
//
// The engine keeps no state between calls and takes no locks. Per-stream
// sequence numbers stay contiguous and unique because the only write it performs
// is an insert that succeeds only if the key (stream_id, changeset_id) is absent:
// among all appenders racing for the same changeset id exactly one insert wins.
package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

var tracer = otel.Tracer("github.com/getpup/pupstore/es/commit")

// Config configures an Appender.
type Config struct {
	// Logger is an optional logger. If nil, logging is disabled.
	Logger es.Logger

	// AfterCommit is called after every successful append. Optional.
	// It is used to run the global indexer synchronously with commits.
	AfterCommit func(ctx context.Context, result es.CommitResult)

	// Now returns the commit timestamp. Defaults to time.Now.
	Now func() time.Time

	// Retry bounds retries of transient storage errors
	Retry store.RetryPolicy

	// MaxRaceRetries is how many times an append without an expected version is
	// retried after losing the race for its changeset id. An append makes at most
	// MaxRaceRetries+1 attempts.
	MaxRaceRetries int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Retry:          store.DefaultRetryPolicy(),
		MaxRaceRetries: 8,
		Now:            time.Now,
	}
}

// Option is a functional option for configuring an Appender.
type Option func(*Config)

// WithLogger sets a logger.
func WithLogger(logger es.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithRetryPolicy sets the storage retry policy.
func WithRetryPolicy(policy store.RetryPolicy) Option {
	return func(c *Config) {
		c.Retry = policy
	}
}

// WithMaxRaceRetries sets the race retry budget for appends without an expected version.
func WithMaxRaceRetries(n int) Option {
	return func(c *Config) {
		c.MaxRaceRetries = n
	}
}

// WithAfterCommit sets the post-commit hook.
func WithAfterCommit(fn func(ctx context.Context, result es.CommitResult)) Option {
	return func(c *Config) {
		c.AfterCommit = fn
	}
}

// NewConfig starts from DefaultConfig and applies the options.
func NewConfig(opts ...Option) Config {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Appender appends changesets to streams.
// It is safe for concurrent use, and any number of Appenders may share one store.
type Appender struct {
	store  store.Store
	config Config
}

// NewAppender creates an Appender over the given store.
func NewAppender(s store.Store, config Config) *Appender {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Appender{store: s, config: config}
}

// Append commits events as the next changeset of the stream.
//
// With an exact expected version the append succeeds only if the stream's last
// changeset id equals it at the moment of the insert; otherwise it fails with a
// *es.VersionConflictError and the stream is left untouched. A lost race is reported
// the same way, because the caller's view of the stream was stale.
//
// Without an expected version a lost race is retried against the advanced stream,
// up to MaxRaceRetries times.
//
//nolint:gocyclo // the retry policy split is easier to follow in one place
func (a *Appender) Append(ctx context.Context, streamID string, expected es.ExpectedVersion, events []es.Event, metadata []byte) (es.CommitResult, error) {
	if streamID == "" {
		return es.CommitResult{}, es.ErrMissingStreamID
	}
	if len(events) == 0 {
		return es.CommitResult{}, es.ErrNoEvents
	}

	ctx, span := tracer.Start(ctx, "commit.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("stream_id", streamID),
		attribute.String("expected_version", expected.String()),
		attribute.Int("event_count", len(events)),
	)

	if a.config.Logger != nil {
		a.config.Logger.Debug(ctx, "append starting",
			"stream_id", streamID,
			"event_count", len(events),
			"expected_version", expected.String())
	}

	commitID := uuid.New()
	committedAt := a.config.Now().UTC()

	for attempt := 1; ; attempt++ {
		last, err := store.Do(ctx, a.config.Retry, func() (int64, error) {
			return a.store.LastChangesetID(ctx, streamID)
		})
		if err != nil {
			return es.CommitResult{}, a.fail(ctx, span, fmt.Errorf("failed to read last changeset: %w", err))
		}

		if expected.IsExact() && last != expected.Value() {
			return es.CommitResult{}, a.conflict(ctx, span, streamID, expected.Value(), last)
		}

		next := last + 1
		if a.config.Logger != nil {
			a.config.Logger.Debug(ctx, "version calculated",
				"stream_id", streamID,
				"last_changeset_id", last,
				"next_changeset_id", next,
				"attempt", attempt)
		}

		cs := &es.Changeset{
			StreamID:    streamID,
			ChangesetID: next,
			Events:      events,
			Metadata:    metadata,
			CommitID:    commitID,
			CommittedAt: committedAt,
		}

		err = a.insert(ctx, cs)
		if err == nil {
			result := es.CommitResult{StreamID: streamID, ChangesetID: next}
			span.SetAttributes(attribute.Int64("changeset_id", next))
			if a.config.Logger != nil {
				a.config.Logger.Info(ctx, "changeset committed",
					"stream_id", streamID,
					"changeset_id", next,
					"event_count", len(events))
			}
			if a.config.AfterCommit != nil {
				a.config.AfterCommit(ctx, result)
			}
			return result, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return es.CommitResult{}, a.fail(ctx, span, fmt.Errorf("failed to insert changeset %d: %w", next, err))
		}

		// Another writer took changeset id next.
		if expected.IsExact() {
			actual, readErr := store.Do(ctx, a.config.Retry, func() (int64, error) {
				return a.store.LastChangesetID(ctx, streamID)
			})
			if readErr != nil {
				actual = next
			}
			return es.CommitResult{}, a.conflict(ctx, span, streamID, expected.Value(), actual)
		}
		if attempt > a.config.MaxRaceRetries {
			return es.CommitResult{}, a.fail(ctx, span, fmt.Errorf("%w: lost the race for stream %q %d times: %w",
				es.ErrStorageUnavailable, streamID, attempt, err))
		}
		if a.config.Logger != nil {
			a.config.Logger.Debug(ctx, "append lost race, retrying",
				"stream_id", streamID,
				"changeset_id", next,
				"attempt", attempt)
		}
	}
}

// insert writes the changeset, retrying transient failures. A transient failure may
// hide a write that did land, so a condition failure after a retry is checked against
// the commit id before it is treated as a lost race.
func (a *Appender) insert(ctx context.Context, cs *es.Changeset) error {
	retried := false
	policy := a.config.Retry
	onRetry := policy.OnRetry
	policy.OnRetry = func(err error, delay time.Duration) {
		retried = true
		if a.config.Logger != nil {
			a.config.Logger.Error(ctx, "insert failed, retrying",
				"stream_id", cs.StreamID,
				"changeset_id", cs.ChangesetID,
				"delay", delay,
				"error", err)
		}
		if onRetry != nil {
			onRetry(err, delay)
		}
	}

	_, err := store.Do(ctx, policy, func() (struct{}, error) {
		return struct{}{}, a.store.InsertChangeset(ctx, cs)
	})
	if err == nil || !retried || !errors.Is(err, store.ErrConditionFailed) {
		return err
	}

	existing, getErr := store.Do(ctx, a.config.Retry, func() (es.Changeset, error) {
		return a.store.GetChangeset(ctx, cs.Ref())
	})
	if getErr == nil && existing.CommitID == cs.CommitID {
		return nil
	}
	return err
}

func (a *Appender) conflict(ctx context.Context, span trace.Span, streamID string, expected, actual int64) error {
	err := &es.VersionConflictError{StreamID: streamID, Expected: expected, Actual: actual}
	span.SetStatus(codes.Error, "version conflict")
	if a.config.Logger != nil {
		a.config.Logger.Info(ctx, "version conflict",
			"stream_id", streamID,
			"expected_changeset_id", expected,
			"actual_changeset_id", actual)
	}
	return err
}

func (a *Appender) fail(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if a.config.Logger != nil {
		a.config.Logger.Error(ctx, "append failed", "error", err)
	}
	return err
}
