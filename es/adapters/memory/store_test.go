package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
	"github.com/getpup/pupstore/es/store/storetest"
)

func changeset(stream string, id int64) *es.Changeset {
	return &es.Changeset{
		StreamID:    stream,
		ChangesetID: id,
		Events:      []es.Event{{Type: "init", Payload: []byte(`{"type":"init","foo":"bar"}`)}},
		Metadata:    []byte(`{"issued_by":"test@test.com"}`),
	}
}

func ptr(v int64) *int64 { return &v }

func TestInsertChangeset_OnlyIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.InsertChangeset(ctx, changeset("S", 1)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertChangeset(ctx, changeset("S", 1)); !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("duplicate insert: expected ErrConditionFailed, got %v", err)
	}
	if err := s.InsertChangeset(ctx, changeset("S", 3)); err == nil {
		t.Fatal("insert leaving a gap should fail")
	}

	last, err := s.LastChangesetID(ctx, "S")
	if err != nil || last != 1 {
		t.Fatalf("LastChangesetID = %d, %v; want 1", last, err)
	}
	last, err = s.LastChangesetID(ctx, "missing")
	if err != nil || last != 0 {
		t.Fatalf("LastChangesetID(missing) = %d, %v; want 0", last, err)
	}
}

func TestReadStream_Range(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for i := int64(1); i <= 5; i++ {
		if err := s.InsertChangeset(ctx, changeset("S", i)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name     string
		from, to *int64
		want     []int64
	}{
		{"all", nil, nil, []int64{1, 2, 3, 4, 5}},
		{"from", ptr(4), nil, []int64{4, 5}},
		{"to", nil, ptr(2), []int64{1, 2}},
		{"window", ptr(2), ptr(3), []int64{2, 3}},
		{"beyond", ptr(6), ptr(10), nil},
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
				if cs.ChangesetID != tt.want[i] {
					t.Errorf("position %d: got changeset %d, want %d", i, cs.ChangesetID, tt.want[i])
				}
			}
		})
	}
}

func TestReadsDoNotShareMemory(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	cs := changeset("S", 1)
	if err := s.InsertChangeset(ctx, cs); err != nil {
		t.Fatal(err)
	}
	cs.Events[0].Payload[0] = 'X'

	got, err := s.GetChangeset(ctx, es.ChangesetRef{StreamID: "S", ChangesetID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Events[0].Payload, []byte(`{"type":"init","foo":"bar"}`)) {
		t.Errorf("stored payload changed through caller's slice: %s", got.Events[0].Payload)
	}
	got.Metadata[0] = 'X'
	again, _ := s.GetChangeset(ctx, es.ChangesetRef{StreamID: "S", ChangesetID: 1})
	if again.Metadata[0] != '{' {
		t.Error("stored metadata changed through a read result")
	}
}

func TestSetGlobalIndex(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for _, stream := range []string{"A", "B"} {
		if err := s.InsertChangeset(ctx, changeset(stream, 1)); err != nil {
			t.Fatal(err)
		}
	}
	a := es.ChangesetRef{StreamID: "A", ChangesetID: 1}
	b := es.ChangesetRef{StreamID: "B", ChangesetID: 1}

	refs, _ := s.ScanUnindexed(ctx, 0, 10)
	if len(refs) != 2 || refs[0].Ref != a || refs[1].Ref != b {
		t.Fatalf("unexpected unindexed refs %v", refs)
	}

	if err := s.SetGlobalIndex(ctx, a, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetGlobalIndex(ctx, a, 2); !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("second assignment: expected ErrConditionFailed, got %v", err)
	}
	if err := s.SetGlobalIndex(ctx, b, 1); err == nil {
		t.Fatal("reusing an index should fail")
	}
	if err := s.SetGlobalIndex(ctx, es.ChangesetRef{StreamID: "C", ChangesetID: 1}, 5); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing changeset: expected ErrNotFound, got %v", err)
	}

	refs, _ = s.ScanUnindexed(ctx, 0, 10)
	if len(refs) != 1 || refs[0].Ref != b {
		t.Fatalf("unexpected unindexed refs %v", refs)
	}

	global, err := s.ReadGlobal(ctx, nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(global) != 1 || global[0].GlobalIndex != 1 || global[0].StreamID != "A" {
		t.Fatalf("unexpected global read %+v", global)
	}
}

func TestAdvanceCounter(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ref := es.ChangesetRef{StreamID: "A", ChangesetID: 1}

	c, err := s.GetCounter(ctx, store.GlobalCounter)
	if err != nil || c.Value != 0 || !c.Ref.IsZero() {
		t.Fatalf("fresh counter = %+v, %v", c, err)
	}
	if err := s.AdvanceCounter(ctx, store.GlobalCounter, 0, store.Counter{Value: 1, Ref: ref}); err != nil {
		t.Fatal(err)
	}
	if err := s.AdvanceCounter(ctx, store.GlobalCounter, 0, store.Counter{Value: 1}); !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("stale advance: expected ErrConditionFailed, got %v", err)
	}
	if err := s.AdvanceCounter(ctx, store.GlobalCounter, 1, store.Counter{Value: 1}); err == nil {
		t.Fatal("non-increasing advance should fail")
	}

	c, _ = s.GetCounter(ctx, store.GlobalCounter)
	if c.Value != 1 || c.Ref != ref {
		t.Fatalf("counter = %+v", c)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_ = s.InsertChangeset(ctx, changeset("A", 1))
	_ = s.InsertChangeset(ctx, changeset("A", 2))
	two := changeset("B", 1)
	two.Events = append(two.Events, es.Event{Type: "update"})
	_ = s.InsertChangeset(ctx, two)
	_ = s.SetGlobalIndex(ctx, es.ChangesetRef{StreamID: "A", ChangesetID: 1}, 7)

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := es.Stats{TotalStreams: 2, TotalChangesets: 3, TotalEvents: 4, MaxGlobalIndex: 7}
	if stats != want {
		t.Errorf("Stats() = %+v, want %+v", stats, want)
	}
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return NewStore() })
}
