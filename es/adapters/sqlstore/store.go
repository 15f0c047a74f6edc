// Package sqlstore implements store.Store on top of database/sql.
//
// Every conditional write maps to a single statement the database decides
// atomically: a unique key for insert-if-absent, and UPDATE ... WHERE for
// compare-and-set. The postgres, mysql and sqlite packages supply the Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

// StoreConfig contains configuration for a SQL store.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// ChangesetsTable is the name of the changesets table
	ChangesetsTable string

	// EventsTable is the name of the changeset events table
	EventsTable string

	// CountersTable is the name of the counters table
	CountersTable string
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		ChangesetsTable: "changesets",
		EventsTable:     "changeset_events",
		CountersTable:   "counters",
	}
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithChangesetsTable sets a custom changesets table name.
func WithChangesetsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.ChangesetsTable = tableName
	}
}

// WithEventsTable sets a custom changeset events table name.
func WithEventsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.EventsTable = tableName
	}
}

// WithCountersTable sets a custom counters table name.
func WithCountersTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.CountersTable = tableName
	}
}

// NewStoreConfig creates a new store configuration with functional options.
// It starts with the default configuration and applies the given options.
//
// Example:
//
//	config := sqlstore.NewStoreConfig(
//	    sqlstore.WithLogger(myLogger),
//	    sqlstore.WithChangesetsTable("orders_changesets"),
//	)
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

var changesetColumns = []string{
	"stream_id", "changeset_id", "commit_id", "metadata", "committed_at", "global_index",
}

// Store is a SQL-backed changeset store.
type Store struct {
	db      DB
	dialect Dialect
	sb      sq.StatementBuilderType
	config  StoreConfig
}

var _ store.Store = (*Store)(nil)

// New creates a Store. The schema must already exist (see Migrate).
func New(db DB, dialect Dialect, config StoreConfig) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder()),
		config:  config,
	}
}

// InsertChangeset implements store.ChangesetWriter.
// The unique key on (stream_id, changeset_id) makes the insert conditional.
func (s *Store) InsertChangeset(ctx context.Context, cs *es.Changeset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	//nolint:errcheck // rollback after commit is a no-op
	defer tx.Rollback()

	query, args, err := s.sb.Insert(s.config.ChangesetsTable).
		Columns("stream_id", "changeset_id", "commit_id", "metadata", "committed_at", "event_count").
		Values(cs.StreamID, cs.ChangesetID, cs.CommitID.String(), cs.Metadata, cs.CommittedAt.UnixNano(), len(cs.Events)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if s.dialect.IsUniqueViolation(err) {
			if s.config.Logger != nil {
				s.config.Logger.Debug(ctx, "changeset already exists",
					"stream_id", cs.StreamID,
					"changeset_id", cs.ChangesetID)
			}
			return store.ErrConditionFailed
		}
		return fmt.Errorf("failed to insert changeset: %w", err)
	}

	if len(cs.Events) > 0 {
		insert := s.sb.Insert(s.config.EventsTable).
			Columns("stream_id", "changeset_id", "event_seq", "event_type", "payload")
		for i, e := range cs.Events {
			insert = insert.Values(cs.StreamID, cs.ChangesetID, i, e.Type, e.Payload)
		}
		query, args, err = insert.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build event insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return store.ErrConditionFailed
		}
		return fmt.Errorf("failed to commit changeset: %w", err)
	}
	return nil
}

// LastChangesetID implements store.ChangesetReader.
func (s *Store) LastChangesetID(ctx context.Context, streamID string) (int64, error) {
	query, args, err := s.sb.Select("COALESCE(MAX(changeset_id), 0)").
		From(s.config.ChangesetsTable).
		Where(sq.Eq{"stream_id": streamID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var last int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to read last changeset id: %w", err)
	}
	return last, nil
}

// GetChangeset implements store.ChangesetReader.
func (s *Store) GetChangeset(ctx context.Context, ref es.ChangesetRef) (es.Changeset, error) {
	where := sq.Eq{"stream_id": ref.StreamID, "changeset_id": ref.ChangesetID}
	changesets, err := s.selectChangesets(ctx, s.sb.Select(changesetColumns...).
		From(s.config.ChangesetsTable).
		Where(where))
	if err != nil {
		return es.Changeset{}, err
	}
	if len(changesets) == 0 {
		return es.Changeset{}, store.ErrNotFound
	}
	if err := s.attachEvents(ctx, changesets, where); err != nil {
		return es.Changeset{}, err
	}
	return changesets[0], nil
}

// ReadStream implements store.ChangesetReader.
func (s *Store) ReadStream(ctx context.Context, streamID string, from, to *int64) ([]es.Changeset, error) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "reading stream",
			"stream_id", streamID,
			"from", from,
			"to", to)
	}

	where := sq.And{sq.Eq{"stream_id": streamID}}
	where = append(where, bounds("changeset_id", from, to)...)
	changesets, err := s.selectChangesets(ctx, s.sb.Select(changesetColumns...).
		From(s.config.ChangesetsTable).
		Where(where).
		OrderBy("changeset_id ASC"))
	if err != nil {
		return nil, err
	}
	if len(changesets) == 0 {
		return nil, nil
	}

	first, last := changesets[0].ChangesetID, changesets[len(changesets)-1].ChangesetID
	eventWhere := sq.And{sq.Eq{"stream_id": streamID}}
	eventWhere = append(eventWhere, bounds("changeset_id", &first, &last)...)
	if err := s.attachEvents(ctx, changesets, eventWhere); err != nil {
		return nil, err
	}
	return changesets, nil
}

// ReadGlobal implements store.ChangesetReader.
func (s *Store) ReadGlobal(ctx context.Context, from, to *int64, limit int) ([]es.Changeset, error) {
	where := sq.And{sq.NotEq{"global_index": nil}}
	where = append(where, bounds("global_index", from, to)...)
	sel := s.sb.Select(changesetColumns...).
		From(s.config.ChangesetsTable).
		Where(where).
		OrderBy("global_index ASC")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}

	changesets, err := s.selectChangesets(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(changesets) == 0 {
		return nil, nil
	}

	// Events are fetched for the global index window actually returned.
	first, last := changesets[0].GlobalIndex, changesets[len(changesets)-1].GlobalIndex
	// The subquery keeps '?' placeholders; the outer builder renumbers them.
	refs := sq.Select("stream_id", "changeset_id").
		From(s.config.ChangesetsTable).
		Where(sq.And{sq.GtOrEq{"global_index": first}, sq.LtOrEq{"global_index": last}})
	refsSQL, refsArgs, err := refs.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	eventWhere := sq.Expr(fmt.Sprintf("(stream_id, changeset_id) IN (%s)", refsSQL), refsArgs...)
	if err := s.attachEvents(ctx, changesets, eventWhere); err != nil {
		return nil, err
	}
	return changesets, nil
}

// ScanUnindexed implements store.IndexStore. Changesets come back in commit order.
func (s *Store) ScanUnindexed(ctx context.Context, after int64, limit int) ([]store.Unindexed, error) {
	sel := s.sb.Select("stream_id", "changeset_id", "commit_seq").
		From(s.config.ChangesetsTable).
		Where(sq.Eq{"global_index": nil}).
		Where(sq.Gt{"commit_seq": after}).
		OrderBy("commit_seq ASC")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan unindexed changesets: %w", err)
	}
	defer rows.Close()

	var refs []store.Unindexed
	for rows.Next() {
		var u store.Unindexed
		if err := rows.Scan(&u.Ref.StreamID, &u.Ref.ChangesetID, &u.Seq); err != nil {
			return nil, fmt.Errorf("failed to scan changeset ref: %w", err)
		}
		refs = append(refs, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return refs, nil
}

// SetGlobalIndex implements store.IndexStore.
func (s *Store) SetGlobalIndex(ctx context.Context, ref es.ChangesetRef, index int64) error {
	if index <= 0 {
		return fmt.Errorf("global index must be positive, got %d", index)
	}

	query, args, err := s.sb.Update(s.config.ChangesetsTable).
		Set("global_index", index).
		Where(sq.Eq{"stream_id": ref.StreamID, "changeset_id": ref.ChangesetID, "global_index": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("global index %d already assigned: %w", index, err)
		}
		return fmt.Errorf("failed to set global index: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: either the changeset is missing or it already has an index.
	last, err := s.LastChangesetID(ctx, ref.StreamID)
	if err != nil {
		return err
	}
	if ref.ChangesetID < 1 || ref.ChangesetID > last {
		return store.ErrNotFound
	}
	return store.ErrConditionFailed
}

// GetCounter implements store.CounterStore.
func (s *Store) GetCounter(ctx context.Context, name string) (store.Counter, error) {
	query, args, err := s.sb.Select("value", "ref_stream_id", "ref_changeset_id").
		From(s.config.CountersTable).
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return store.Counter{}, fmt.Errorf("failed to build query: %w", err)
	}

	var c store.Counter
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&c.Value, &c.Ref.StreamID, &c.Ref.ChangesetID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Counter{}, nil
	}
	if err != nil {
		return store.Counter{}, fmt.Errorf("failed to read counter %q: %w", name, err)
	}
	return c, nil
}

// AdvanceCounter implements store.CounterStore.
// A counter at zero has no row yet, so its first advance is an insert.
func (s *Store) AdvanceCounter(ctx context.Context, name string, expected int64, next store.Counter) error {
	if next.Value <= expected {
		return fmt.Errorf("counter %q must advance past %d, got %d", name, expected, next.Value)
	}

	if expected == 0 {
		query, args, err := s.sb.Insert(s.config.CountersTable).
			Columns("name", "value", "ref_stream_id", "ref_changeset_id").
			Values(name, next.Value, next.Ref.StreamID, next.Ref.ChangesetID).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return store.ErrConditionFailed
			}
			return fmt.Errorf("failed to create counter %q: %w", name, err)
		}
		return nil
	}

	query, args, err := s.sb.Update(s.config.CountersTable).
		Set("value", next.Value).
		Set("ref_stream_id", next.Ref.StreamID).
		Set("ref_changeset_id", next.Ref.ChangesetID).
		Where(sq.Eq{"name": name, "value": expected}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to advance counter %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrConditionFailed
	}
	return nil
}

// Stats implements store.StatsReader.
func (s *Store) Stats(ctx context.Context) (es.Stats, error) {
	query, args, err := s.sb.Select(
		"COUNT(DISTINCT stream_id)",
		"COUNT(*)",
		"COALESCE(SUM(event_count), 0)",
		"COALESCE(MAX(global_index), 0)",
	).From(s.config.ChangesetsTable).ToSql()
	if err != nil {
		return es.Stats{}, fmt.Errorf("failed to build query: %w", err)
	}

	var stats es.Stats
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalStreams,
		&stats.TotalChangesets,
		&stats.TotalEvents,
		&stats.MaxGlobalIndex,
	)
	if err != nil {
		return es.Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

func (s *Store) selectChangesets(ctx context.Context, sel sq.SelectBuilder) ([]es.Changeset, error) {
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changesets: %w", err)
	}
	defer rows.Close()

	var changesets []es.Changeset
	for rows.Next() {
		var (
			cs          es.Changeset
			commitID    string
			committedAt int64
			globalIndex sql.NullInt64
		)
		if err := rows.Scan(&cs.StreamID, &cs.ChangesetID, &commitID, &cs.Metadata, &committedAt, &globalIndex); err != nil {
			return nil, fmt.Errorf("failed to scan changeset: %w", err)
		}
		cs.CommitID, err = uuid.Parse(commitID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse commit ID: %w", err)
		}
		cs.CommittedAt = time.Unix(0, committedAt).UTC()
		cs.GlobalIndex = globalIndex.Int64
		changesets = append(changesets, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return changesets, nil
}

// attachEvents loads the events matching where and attaches them to their changesets.
func (s *Store) attachEvents(ctx context.Context, changesets []es.Changeset, where sq.Sqlizer) error {
	byRef := make(map[es.ChangesetRef]*es.Changeset, len(changesets))
	for i := range changesets {
		byRef[changesets[i].Ref()] = &changesets[i]
	}

	query, args, err := s.sb.Select("stream_id", "changeset_id", "event_type", "payload").
		From(s.config.EventsTable).
		Where(where).
		OrderBy("stream_id", "changeset_id", "event_seq").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ref es.ChangesetRef
			e   es.Event
		)
		if err := rows.Scan(&ref.StreamID, &ref.ChangesetID, &e.Type, &e.Payload); err != nil {
			return fmt.Errorf("failed to scan event: %w", err)
		}
		if cs, ok := byRef[ref]; ok {
			cs.Events = append(cs.Events, e)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

func bounds(column string, from, to *int64) []sq.Sqlizer {
	var preds []sq.Sqlizer
	if from != nil {
		preds = append(preds, sq.GtOrEq{column: *from})
	}
	if to != nil {
		preds = append(preds, sq.LtOrEq{column: *to})
	}
	return preds
}
