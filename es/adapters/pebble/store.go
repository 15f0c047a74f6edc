// Package pebblestore implements store.Store on an embedded Pebble database.
//
// Pebble has no conditional writes, so the store checks each condition and
// writes the result in one atomic batch while holding its own write lock.
// That makes the store the only writer of its directory: it must not be
// opened by two processes at once (Pebble's directory lock enforces this).
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

// Options configures the Pebble store.
type Options struct {
	// Logger is an optional logger. If nil, logging is disabled.
	Logger es.Logger

	// FS overrides the filesystem, e.g. vfs.NewMem() in tests. Optional.
	FS vfs.FS

	// DataDir is the path to the Pebble database directory.
	DataDir string

	// NoSync skips the WAL fsync on commit. Faster, but a crash may lose
	// the latest acknowledged writes.
	NoSync bool
}

// Store is a Pebble-backed changeset store.
type Store struct {
	db        *pebble.DB
	logger    es.Logger
	writeOpts *pebble.WriteOptions

	// mu serialises check-then-write sequences.
	mu sync.Mutex
}

var _ store.Store = (*Store)(nil)

// Open creates or opens a Pebble store.
func Open(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	db, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", opts.DataDir, err)
	}

	s := &Store{db: db, logger: opts.Logger, writeOpts: pebble.Sync}
	if opts.NoSync {
		s.writeOpts = pebble.NoSync
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertChangeset implements store.ChangesetWriter.
func (s *Store) InsertChangeset(ctx context.Context, cs *es.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.lastChangesetID(cs.StreamID)
	if err != nil {
		return err
	}
	if cs.ChangesetID <= last {
		return store.ErrConditionFailed
	}
	if cs.ChangesetID != last+1 {
		return fmt.Errorf("changeset %d would leave a gap after %d", cs.ChangesetID, last)
	}

	seqRaw, _, err := s.get(keyCommitSeq)
	if err != nil {
		return err
	}
	seq := decodeUint64(seqRaw) + 1

	stats, err := s.stats()
	if err != nil {
		return err
	}
	if last == 0 {
		stats.Streams++
	}
	stats.Changesets++
	stats.Events += int64(len(cs.Events))

	record, err := encode(newChangesetRecord(cs, seq))
	if err != nil {
		return fmt.Errorf("failed to encode changeset: %w", err)
	}
	statsRaw, err := encode(stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Set(changesetKey(cs.StreamID, cs.ChangesetID), record, nil)
	_ = b.Set(headKey(cs.StreamID), encodeUint64(uint64(cs.ChangesetID)), nil)
	_ = b.Set(unindexedKey(seq), encodeRef(cs.Ref()), nil)
	_ = b.Set(keyCommitSeq, encodeUint64(seq), nil)
	_ = b.Set(keyStats, statsRaw, nil)
	if err := b.Commit(s.writeOpts); err != nil {
		return fmt.Errorf("failed to commit changeset: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug(ctx, "changeset stored",
			"stream_id", cs.StreamID,
			"changeset_id", cs.ChangesetID,
			"commit_seq", seq)
	}
	return nil
}

// LastChangesetID implements store.ChangesetReader.
func (s *Store) LastChangesetID(ctx context.Context, streamID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.lastChangesetID(streamID)
}

// GetChangeset implements store.ChangesetReader.
func (s *Store) GetChangeset(ctx context.Context, ref es.ChangesetRef) (es.Changeset, error) {
	if err := ctx.Err(); err != nil {
		return es.Changeset{}, err
	}
	rec, ok, err := s.record(ref)
	if err != nil {
		return es.Changeset{}, err
	}
	if !ok {
		return es.Changeset{}, store.ErrNotFound
	}
	return rec.changeset(ref)
}

// ReadStream implements store.ChangesetReader.
func (s *Store) ReadStream(ctx context.Context, streamID string, from, to *int64) ([]es.Changeset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := int64(0)
	if from != nil && *from > 0 {
		lower = *from
	}
	if to != nil && *to < lower {
		return nil, nil
	}

	opts := &pebble.IterOptions{
		LowerBound: changesetKey(streamID, lower),
		UpperBound: upperBound(streamPrefix(streamID)),
	}
	if to != nil {
		opts.UpperBound = changesetKey(streamID, *to+1)
	}
	iter, err := s.db.NewIter(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var result []es.Changeset
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		id := int64(decodeUint64(key[len(key)-8:]))
		var rec changesetRecord
		if err := decode(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode changeset %s/%d: %w", streamID, id, err)
		}
		cs, err := rec.changeset(es.ChangesetRef{StreamID: streamID, ChangesetID: id})
		if err != nil {
			return nil, err
		}
		result = append(result, cs)
	}
	return result, iter.Error()
}

// ReadGlobal implements store.ChangesetReader.
func (s *Store) ReadGlobal(ctx context.Context, from, to *int64, limit int) ([]es.Changeset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := int64(1)
	if from != nil && *from > lower {
		lower = *from
	}
	if to != nil && *to < lower {
		return nil, nil
	}

	opts := &pebble.IterOptions{
		LowerBound: globalKey(lower),
		UpperBound: upperBound(prefixGlobal),
	}
	if to != nil {
		opts.UpperBound = globalKey(*to + 1)
	}
	iter, err := s.db.NewIter(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var result []es.Changeset
	for iter.First(); iter.Valid() && (limit <= 0 || len(result) < limit); iter.Next() {
		ref, err := decodeRef(iter.Value())
		if err != nil {
			return nil, err
		}
		rec, ok, err := s.record(ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("global index points at missing changeset %s/%d", ref.StreamID, ref.ChangesetID)
		}
		cs, err := rec.changeset(ref)
		if err != nil {
			return nil, err
		}
		result = append(result, cs)
	}
	return result, iter.Error()
}

// ScanUnindexed implements store.IndexStore.
func (s *Store) ScanUnindexed(ctx context.Context, after int64, limit int) ([]store.Unindexed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if after < 0 {
		after = 0
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: unindexedKey(uint64(after) + 1),
		UpperBound: upperBound(prefixUnindexed),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var refs []store.Unindexed
	for iter.First(); iter.Valid() && (limit <= 0 || len(refs) < limit); iter.Next() {
		ref, err := decodeRef(iter.Value())
		if err != nil {
			return nil, err
		}
		seq := decodeUint64(iter.Key()[len(prefixUnindexed):])
		refs = append(refs, store.Unindexed{Ref: ref, Seq: int64(seq)})
	}
	return refs, iter.Error()
}

// SetGlobalIndex implements store.IndexStore.
func (s *Store) SetGlobalIndex(ctx context.Context, ref es.ChangesetRef, index int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if index <= 0 {
		return fmt.Errorf("global index must be positive, got %d", index)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.record(ref)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if rec.GlobalIndex != 0 {
		return store.ErrConditionFailed
	}
	if _, taken, err := s.get(globalKey(index)); err != nil {
		return err
	} else if taken {
		return fmt.Errorf("global index %d already assigned", index)
	}

	stats, err := s.stats()
	if err != nil {
		return err
	}
	if index > stats.MaxGlobalIndex {
		stats.MaxGlobalIndex = index
	}

	seq := rec.CommitSeq
	rec.GlobalIndex = index
	record, err := encode(rec)
	if err != nil {
		return fmt.Errorf("failed to encode changeset: %w", err)
	}
	statsRaw, err := encode(stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Set(changesetKey(ref.StreamID, ref.ChangesetID), record, nil)
	_ = b.Set(globalKey(index), encodeRef(ref), nil)
	_ = b.Delete(unindexedKey(seq), nil)
	_ = b.Set(keyStats, statsRaw, nil)
	if err := b.Commit(s.writeOpts); err != nil {
		return fmt.Errorf("failed to commit global index: %w", err)
	}
	return nil
}

// GetCounter implements store.CounterStore.
func (s *Store) GetCounter(ctx context.Context, name string) (store.Counter, error) {
	if err := ctx.Err(); err != nil {
		return store.Counter{}, err
	}
	rec, err := s.counter(name)
	if err != nil {
		return store.Counter{}, err
	}
	return rec.counter(), nil
}

// AdvanceCounter implements store.CounterStore.
func (s *Store) AdvanceCounter(ctx context.Context, name string, expected int64, next store.Counter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if next.Value <= expected {
		return fmt.Errorf("counter %q must advance past %d, got %d", name, expected, next.Value)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.counter(name)
	if err != nil {
		return err
	}
	if current.Value != expected {
		return store.ErrConditionFailed
	}

	raw, err := encode(counterRecord{
		Value:       next.Value,
		RefStream:   next.Ref.StreamID,
		RefChangeID: next.Ref.ChangesetID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode counter: %w", err)
	}
	if err := s.db.Set(counterKey(name), raw, s.writeOpts); err != nil {
		return fmt.Errorf("failed to write counter %q: %w", name, err)
	}
	return nil
}

// Stats implements store.StatsReader.
func (s *Store) Stats(ctx context.Context) (es.Stats, error) {
	if err := ctx.Err(); err != nil {
		return es.Stats{}, err
	}
	rec, err := s.stats()
	if err != nil {
		return es.Stats{}, err
	}
	return es.Stats{
		TotalStreams:    rec.Streams,
		TotalChangesets: rec.Changesets,
		TotalEvents:     rec.Events,
		MaxGlobalIndex:  rec.MaxGlobalIndex,
	}, nil
}

// get returns a copy of the value at key.
func (s *Store) get(key []byte) ([]byte, bool, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

func (s *Store) lastChangesetID(streamID string) (int64, error) {
	raw, _, err := s.get(headKey(streamID))
	if err != nil {
		return 0, err
	}
	return int64(decodeUint64(raw)), nil
}

func (s *Store) record(ref es.ChangesetRef) (changesetRecord, bool, error) {
	raw, ok, err := s.get(changesetKey(ref.StreamID, ref.ChangesetID))
	if err != nil || !ok {
		return changesetRecord{}, false, err
	}
	var rec changesetRecord
	if err := decode(raw, &rec); err != nil {
		return changesetRecord{}, false, fmt.Errorf("failed to decode changeset %s/%d: %w", ref.StreamID, ref.ChangesetID, err)
	}
	return rec, true, nil
}

func (s *Store) counter(name string) (counterRecord, error) {
	raw, ok, err := s.get(counterKey(name))
	if err != nil || !ok {
		return counterRecord{}, err
	}
	var rec counterRecord
	if err := decode(raw, &rec); err != nil {
		return counterRecord{}, fmt.Errorf("failed to decode counter %q: %w", name, err)
	}
	return rec, nil
}

func (s *Store) stats() (statsRecord, error) {
	raw, ok, err := s.get(keyStats)
	if err != nil || !ok {
		return statsRecord{}, err
	}
	var rec statsRecord
	if err := decode(raw, &rec); err != nil {
		return statsRecord{}, fmt.Errorf("failed to decode stats: %w", err)
	}
	return rec, nil
}
