// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/commit"
	"github.com/getpup/pupstore/es/globalindex"
	"github.com/getpup/pupstore/es/store"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run runs the conformance suite against the stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"InsertIsConditional", testInsertIsConditional},
		{"RoundTrip", testRoundTrip},
		{"ReadStreamRange", testReadStreamRange},
		{"SetGlobalIndex", testSetGlobalIndex},
		{"ScanUnindexedCommitOrder", testScanUnindexedCommitOrder},
		{"ReadGlobal", testReadGlobal},
		{"Counter", testCounter},
		{"Stats", testStats},
		{"ConcurrentAppendAndIndex", testConcurrentAppendAndIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func newChangeset(stream string, id int64, events ...string) *es.Changeset {
	cs := &es.Changeset{
		StreamID:    stream,
		ChangesetID: id,
		CommitID:    uuid.New(),
		CommittedAt: time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC),
		Metadata:    []byte(`{"issued_by":"test@test.com"}`),
	}
	if len(events) == 0 {
		events = []string{"init"}
	}
	for _, typ := range events {
		cs.Events = append(cs.Events, es.Event{
			Type:    typ,
			Payload: []byte(fmt.Sprintf(`{"type":%q}`, typ)),
		})
	}
	return cs
}

func mustInsert(t *testing.T, s store.Store, cs *es.Changeset) {
	t.Helper()
	if err := s.InsertChangeset(context.Background(), cs); err != nil {
		t.Fatalf("insert %s/%d: %v", cs.StreamID, cs.ChangesetID, err)
	}
}

func ptr(v int64) *int64 { return &v }

func testInsertIsConditional(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustInsert(t, s, newChangeset("S", 1))

	err := s.InsertChangeset(ctx, newChangeset("S", 1))
	if !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("duplicate insert: expected ErrConditionFailed, got %v", err)
	}

	last, err := s.LastChangesetID(ctx, "S")
	if err != nil || last != 1 {
		t.Fatalf("LastChangesetID = %d, %v; want 1", last, err)
	}
	last, err = s.LastChangesetID(ctx, "never")
	if err != nil || last != 0 {
		t.Fatalf("LastChangesetID(never) = %d, %v; want 0", last, err)
	}
}

func testRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := newChangeset("S", 1, "first", "second")
	in.Events[1].Payload = []byte("{ \"spacing\" :  [1,2],\n\"order\":\"kept\" }")
	mustInsert(t, s, in)

	out, err := s.GetChangeset(ctx, in.Ref())
	if err != nil {
		t.Fatal(err)
	}
	if out.CommitID != in.CommitID {
		t.Errorf("CommitID = %s, want %s", out.CommitID, in.CommitID)
	}
	if !out.CommittedAt.Equal(in.CommittedAt) {
		t.Errorf("CommittedAt = %s, want %s", out.CommittedAt, in.CommittedAt)
	}
	if !bytes.Equal(out.Metadata, in.Metadata) {
		t.Errorf("Metadata = %q", out.Metadata)
	}
	if out.Indexed() {
		t.Error("fresh changeset reports a global index")
	}
	if len(out.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(out.Events))
	}
	for i := range in.Events {
		if out.Events[i].Type != in.Events[i].Type || !bytes.Equal(out.Events[i].Payload, in.Events[i].Payload) {
			t.Errorf("event %d = %s %q", i, out.Events[i].Type, out.Events[i].Payload)
		}
	}

	if _, err := s.GetChangeset(ctx, es.ChangesetRef{StreamID: "S", ChangesetID: 2}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing changeset: expected ErrNotFound, got %v", err)
	}
}

func testReadStreamRange(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		mustInsert(t, s, newChangeset("S", i, "a", "b"))
	}
	mustInsert(t, s, newChangeset("other", 1))

	tests := []struct {
		name     string
		from, to *int64
		want     []int64
	}{
		{"all", nil, nil, []int64{1, 2, 3, 4, 5}},
		{"from", ptr(3), nil, []int64{3, 4, 5}},
		{"to", nil, ptr(2), []int64{1, 2}},
		{"window", ptr(2), ptr(4), []int64{2, 3, 4}},
		{"past end", ptr(6), ptr(10), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ReadStream(ctx, "S", tt.from, tt.to)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d changesets, want %d", len(got), len(tt.want))
			}
			for i, cs := range got {
				if cs.StreamID != "S" || cs.ChangesetID != tt.want[i] {
					t.Errorf("position %d: %s/%d, want S/%d", i, cs.StreamID, cs.ChangesetID, tt.want[i])
				}
				if len(cs.Events) != 2 {
					t.Errorf("changeset %d has %d events", cs.ChangesetID, len(cs.Events))
				}
			}
		})
	}
}

func testSetGlobalIndex(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newChangeset("A", 1)
	mustInsert(t, s, a)

	if err := s.SetGlobalIndex(ctx, a.Ref(), 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetGlobalIndex(ctx, a.Ref(), 2); !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("reassignment: expected ErrConditionFailed, got %v", err)
	}
	err := s.SetGlobalIndex(ctx, es.ChangesetRef{StreamID: "A", ChangesetID: 9}, 3)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing changeset: expected ErrNotFound, got %v", err)
	}

	got, err := s.GetChangeset(ctx, a.Ref())
	if err != nil {
		t.Fatal(err)
	}
	if got.GlobalIndex != 1 {
		t.Errorf("GlobalIndex = %d, want 1", got.GlobalIndex)
	}
}

func testScanUnindexedCommitOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	order := []*es.Changeset{
		newChangeset("B", 1),
		newChangeset("A", 1),
		newChangeset("B", 2),
		newChangeset("C", 1),
	}
	for _, cs := range order {
		mustInsert(t, s, cs)
	}

	refs, err := s.ScanUnindexed(ctx, 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 3 {
		t.Fatalf("got %d refs, want 3", len(refs))
	}
	for i, u := range refs {
		if u.Ref != order[i].Ref() {
			t.Errorf("position %d: %v, want %v", i, u.Ref, order[i].Ref())
		}
		if i > 0 && u.Seq <= refs[i-1].Seq {
			t.Errorf("position %d: seq %d not after %d", i, u.Seq, refs[i-1].Seq)
		}
	}

	// Continuing after the last entry returns the rest of the commit order.
	rest, err := s.ScanUnindexed(ctx, refs[2].Seq, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || rest[0].Ref != order[3].Ref() {
		t.Errorf("scan after cursor: %v", rest)
	}

	if err := s.SetGlobalIndex(ctx, order[0].Ref(), 1); err != nil {
		t.Fatal(err)
	}
	refs, err = s.ScanUnindexed(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 3 || refs[0].Ref != order[1].Ref() {
		t.Errorf("indexed changeset still scanned: %v", refs)
	}
}

func testReadGlobal(t *testing.T, s store.Store) {
	ctx := context.Background()
	a1, b1, a2 := newChangeset("A", 1, "x", "y"), newChangeset("B", 1), newChangeset("A", 2)
	for _, cs := range []*es.Changeset{a1, b1, a2} {
		mustInsert(t, s, cs)
	}
	// Gap at 2: a reservation that was never written.
	for ref, idx := range map[es.ChangesetRef]int64{a1.Ref(): 1, b1.Ref(): 3, a2.Ref(): 4} {
		if err := s.SetGlobalIndex(ctx, ref, idx); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ReadGlobal(ctx, nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	wantIdx := []int64{1, 3, 4}
	if len(got) != len(wantIdx) {
		t.Fatalf("got %d changesets, want 3", len(got))
	}
	for i, cs := range got {
		if cs.GlobalIndex != wantIdx[i] {
			t.Errorf("position %d: index %d, want %d", i, cs.GlobalIndex, wantIdx[i])
		}
	}
	if len(got[0].Events) != 2 || got[0].Events[1].Type != "y" {
		t.Errorf("events not loaded for global read: %+v", got[0].Events)
	}

	got, err = s.ReadGlobal(ctx, ptr(2), nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Ref() != b1.Ref() || len(got[0].Events) != 1 {
		t.Errorf("from=2 limit=1 returned %+v", got)
	}
}

func testCounter(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := es.ChangesetRef{StreamID: "A", ChangesetID: 1}

	c, err := s.GetCounter(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if c.Value != 0 || !c.Ref.IsZero() {
		t.Fatalf("fresh counter = %+v", c)
	}

	if err := s.AdvanceCounter(ctx, "c", 0, store.Counter{Value: 1, Ref: ref}); err != nil {
		t.Fatal(err)
	}
	if err := s.AdvanceCounter(ctx, "c", 0, store.Counter{Value: 1}); !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("stale first advance: expected ErrConditionFailed, got %v", err)
	}
	if err := s.AdvanceCounter(ctx, "c", 1, store.Counter{Value: 5}); err != nil {
		t.Fatal(err)
	}
	if err := s.AdvanceCounter(ctx, "c", 1, store.Counter{Value: 6}); !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("stale advance: expected ErrConditionFailed, got %v", err)
	}

	c, err = s.GetCounter(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if c.Value != 5 || !c.Ref.IsZero() {
		t.Errorf("counter = %+v, want value 5 with no ref", c)
	}

	other, _ := s.GetCounter(ctx, "other")
	if other.Value != 0 {
		t.Errorf("counters are not independent: %+v", other)
	}
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustInsert(t, s, newChangeset("A", 1, "x", "y"))
	mustInsert(t, s, newChangeset("A", 2))
	mustInsert(t, s, newChangeset("B", 1, "x", "y", "z"))
	if err := s.SetGlobalIndex(ctx, es.ChangesetRef{StreamID: "B", ChangesetID: 1}, 9); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := es.Stats{TotalStreams: 2, TotalChangesets: 3, TotalEvents: 6, MaxGlobalIndex: 9}
	if stats != want {
		t.Errorf("Stats() = %+v, want %+v", stats, want)
	}
}

func testConcurrentAppendAndIndex(t *testing.T, s store.Store) {
	const (
		writers = 4
		commits = 5
	)

	config := commit.DefaultConfig()
	config.MaxRaceRetries = writers * commits
	appender := commit.NewAppender(s, config)

	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < writers; w++ {
		g.Go(func() error {
			for i := 0; i < commits; i++ {
				// Half the writers share a stream to force races.
				stream := fmt.Sprintf("s-%d", w%2)
				if _, err := appender.Append(ctx, stream, es.Any(), []es.Event{{Type: "tick"}}, nil); err != nil {
					return err
				}
			}
			return nil
		})
		ix := globalindex.New(s, globalindex.DefaultConfig())
		g.Go(func() error {
			_, err := ix.AssignGlobalIndexes(ctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if _, err := globalindex.New(s, globalindex.DefaultConfig()).AssignGlobalIndexes(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, stream := range []string{"s-0", "s-1"} {
		changesets, err := s.ReadStream(context.Background(), stream, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(changesets) != writers/2*commits {
			t.Fatalf("stream %s has %d changesets", stream, len(changesets))
		}
		for i, cs := range changesets {
			if cs.ChangesetID != int64(i+1) {
				t.Fatalf("stream %s not contiguous at %d", stream, i)
			}
		}
	}

	global, err := s.ReadGlobal(context.Background(), nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(global) != writers*commits {
		t.Fatalf("indexed %d changesets, want %d", len(global), writers*commits)
	}
	for i := 1; i < len(global); i++ {
		if global[i].GlobalIndex <= global[i-1].GlobalIndex {
			t.Fatalf("global order not increasing at %d", i)
		}
	}
}
