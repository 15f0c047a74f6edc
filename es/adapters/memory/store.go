// Package memory provides an in-process implementation of store.Store.
//
// It is intended for tests, demos and single-process tools. Each operation is
// atomic with respect to the others, which gives the same conditional-write
// guarantees as the SQL and Pebble adapters.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

// Store is an in-memory changeset store.
type Store struct {
	mu         sync.RWMutex
	streams    map[string][]*es.Changeset // index i holds changeset_id i+1
	global     map[int64]es.ChangesetRef
	unindexed  []store.Unindexed // commit order
	commitSeq  int64
	counters   map[string]store.Counter
	eventCount int64
}

var _ store.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		streams:  make(map[string][]*es.Changeset),
		global:   make(map[int64]es.ChangesetRef),
		counters: make(map[string]store.Counter),
	}
}

// InsertChangeset implements store.ChangesetWriter.
func (s *Store) InsertChangeset(ctx context.Context, cs *es.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[cs.StreamID]
	last := int64(len(stream))
	if cs.ChangesetID <= last {
		return store.ErrConditionFailed
	}
	// Changeset ids are contiguous; a key beyond last+1 would open a gap.
	if cs.ChangesetID != last+1 {
		return fmt.Errorf("changeset %d would leave a gap after %d", cs.ChangesetID, last)
	}

	stored := clone(cs)
	stored.GlobalIndex = 0
	s.streams[cs.StreamID] = append(stream, stored)
	s.commitSeq++
	s.unindexed = append(s.unindexed, store.Unindexed{Ref: stored.Ref(), Seq: s.commitSeq})
	s.eventCount += int64(len(cs.Events))
	return nil
}

// LastChangesetID implements store.ChangesetReader.
func (s *Store) LastChangesetID(ctx context.Context, streamID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.streams[streamID])), nil
}

// GetChangeset implements store.ChangesetReader.
func (s *Store) GetChangeset(ctx context.Context, ref es.ChangesetRef) (es.Changeset, error) {
	if err := ctx.Err(); err != nil {
		return es.Changeset{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs := s.lookup(ref)
	if cs == nil {
		return es.Changeset{}, store.ErrNotFound
	}
	return *clone(cs), nil
}

// ReadStream implements store.ChangesetReader.
func (s *Store) ReadStream(ctx context.Context, streamID string, from, to *int64) ([]es.Changeset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []es.Changeset
	for _, cs := range s.streams[streamID] {
		if inRange(cs.ChangesetID, from, to) {
			result = append(result, *clone(cs))
		}
	}
	return result, nil
}

// ReadGlobal implements store.ChangesetReader.
func (s *Store) ReadGlobal(ctx context.Context, from, to *int64, limit int) ([]es.Changeset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	indexes := make([]int64, 0, len(s.global))
	for idx := range s.global {
		if inRange(idx, from, to) {
			indexes = append(indexes, idx)
		}
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	if limit > 0 && len(indexes) > limit {
		indexes = indexes[:limit]
	}

	result := make([]es.Changeset, 0, len(indexes))
	for _, idx := range indexes {
		result = append(result, *clone(s.lookup(s.global[idx])))
	}
	return result, nil
}

// ScanUnindexed implements store.IndexStore.
func (s *Store) ScanUnindexed(ctx context.Context, after int64, limit int) ([]store.Unindexed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := sort.Search(len(s.unindexed), func(i int) bool { return s.unindexed[i].Seq > after })
	rest := s.unindexed[start:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	return append([]store.Unindexed(nil), rest...), nil
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

	cs := s.lookup(ref)
	if cs == nil {
		return store.ErrNotFound
	}
	if cs.GlobalIndex != 0 {
		return store.ErrConditionFailed
	}
	if _, taken := s.global[index]; taken {
		return fmt.Errorf("global index %d already assigned", index)
	}

	cs.GlobalIndex = index
	s.global[index] = ref
	for i, u := range s.unindexed {
		if u.Ref == ref {
			s.unindexed = append(s.unindexed[:i], s.unindexed[i+1:]...)
			break
		}
	}
	return nil
}

// GetCounter implements store.CounterStore.
func (s *Store) GetCounter(ctx context.Context, name string) (store.Counter, error) {
	if err := ctx.Err(); err != nil {
		return store.Counter{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[name], nil
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

	if s.counters[name].Value != expected {
		return store.ErrConditionFailed
	}
	s.counters[name] = next
	return nil
}

// Stats implements store.StatsReader.
func (s *Store) Stats(ctx context.Context) (es.Stats, error) {
	if err := ctx.Err(); err != nil {
		return es.Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := es.Stats{
		TotalStreams: int64(len(s.streams)),
		TotalEvents:  s.eventCount,
	}
	for _, stream := range s.streams {
		stats.TotalChangesets += int64(len(stream))
	}
	for idx := range s.global {
		if idx > stats.MaxGlobalIndex {
			stats.MaxGlobalIndex = idx
		}
	}
	return stats, nil
}

func (s *Store) lookup(ref es.ChangesetRef) *es.Changeset {
	stream := s.streams[ref.StreamID]
	if ref.ChangesetID < 1 || ref.ChangesetID > int64(len(stream)) {
		return nil
	}
	return stream[ref.ChangesetID-1]
}

func inRange(v int64, from, to *int64) bool {
	if from != nil && v < *from {
		return false
	}
	if to != nil && v > *to {
		return false
	}
	return true
}

// clone deep-copies a changeset so callers never share backing arrays with the store.
func clone(cs *es.Changeset) *es.Changeset {
	c := *cs
	c.Metadata = cloneBytes(cs.Metadata)
	c.Events = make([]es.Event, len(cs.Events))
	for i, e := range cs.Events {
		c.Events[i] = es.Event{Type: e.Type, Payload: cloneBytes(e.Payload)}
	}
	return &c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
