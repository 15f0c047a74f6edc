package query

import (
	"context"
	"errors"
	"testing"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/adapters/memory"
	"github.com/getpup/pupstore/es/commit"
	"github.com/getpup/pupstore/es/globalindex"
)

func ptr(v int64) *int64 { return &v }

func setup(t *testing.T) (*Reader, *memory.Store) {
	t.Helper()
	s := memory.NewStore()
	a := commit.NewAppender(s, commit.DefaultConfig())
	ctx := context.Background()
	for _, stream := range []string{"S", "T", "S"} {
		events := []es.Event{{Type: "first"}, {Type: "second"}}
		if _, err := a.Append(ctx, stream, es.Any(), events, nil); err != nil {
			t.Fatal(err)
		}
	}
	return NewReader(s, DefaultConfig()), s
}

func TestReadStream(t *testing.T) {
	r, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		stream   string
		from, to *int64
		wantIDs  []int64
		wantErr  error
	}{
		{name: "whole stream", stream: "S", wantIDs: []int64{1, 2}},
		{name: "from only", stream: "S", from: ptr(2), wantIDs: []int64{2}},
		{name: "filter matches nothing", stream: "S", from: ptr(5), to: ptr(10), wantIDs: nil},
		{name: "unknown stream", stream: "nope", wantErr: es.ErrStreamNotFound},
		{name: "inverted range", stream: "S", from: ptr(10), to: ptr(1), wantErr: es.ErrInvalidRange},
		{name: "missing stream id", stream: "", wantErr: es.ErrMissingStreamID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := r.ReadStream(ctx, tt.stream, tt.from, tt.to)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if page.StreamID != tt.stream {
				t.Errorf("StreamID = %q", page.StreamID)
			}
			if len(page.Changesets) != len(tt.wantIDs) {
				t.Fatalf("got %d changesets, want %d", len(page.Changesets), len(tt.wantIDs))
			}
			for i, cs := range page.Changesets {
				if cs.ChangesetID != tt.wantIDs[i] {
					t.Errorf("position %d: changeset %d, want %d", i, cs.ChangesetID, tt.wantIDs[i])
				}
			}
		})
	}
}

func TestReadStreamEvents(t *testing.T) {
	r, _ := setup(t)

	page, err := r.ReadStreamEvents(context.Background(), "S", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		id  int64
		typ string
	}{{1, "first"}, {1, "second"}, {2, "first"}, {2, "second"}}
	if len(page.Events) != len(want) {
		t.Fatalf("got %d events, want %d", len(page.Events), len(want))
	}
	for i, e := range page.Events {
		if e.ChangesetID != want[i].id || e.Event.Type != want[i].typ {
			t.Errorf("event %d = %d/%s, want %d/%s", i, e.ChangesetID, e.Event.Type, want[i].id, want[i].typ)
		}
	}
}

func TestReadGlobal(t *testing.T) {
	r, s := setup(t)
	ctx := context.Background()

	got, err := r.ReadGlobal(ctx, nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("unindexed changesets visible in global order: %d", len(got))
	}

	if _, err := globalindex.New(s, globalindex.DefaultConfig()).AssignGlobalIndexes(ctx); err != nil {
		t.Fatal(err)
	}

	got, err = r.ReadGlobal(ctx, ptr(2), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].GlobalIndex != 2 || got[1].GlobalIndex != 3 {
		t.Fatalf("unexpected global read %+v", got)
	}

	got, err = r.ReadGlobal(ctx, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].GlobalIndex != 1 {
		t.Fatalf("limit not applied: %+v", got)
	}

	if _, err := r.ReadGlobal(ctx, ptr(3), ptr(2), 0); !errors.Is(err, es.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestClampLimit(t *testing.T) {
	r := NewReader(memory.NewStore(), Config{DefaultLimit: 10, MaxLimit: 50})
	tests := []struct{ in, want int }{{0, 10}, {-1, 10}, {20, 20}, {500, 50}}
	for _, tt := range tests {
		if got := r.clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStats(t *testing.T) {
	r, _ := setup(t)
	stats, err := r.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalStreams != 2 || stats.TotalChangesets != 3 || stats.TotalEvents != 6 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestParseBound(t *testing.T) {
	tests := []struct {
		raw     string
		want    *int64
		wantErr bool
	}{
		{raw: "", want: nil},
		{raw: " 7 ", want: ptr(7)},
		{raw: "-3", want: ptr(-3)},
		{raw: "abc", wantErr: true},
		{raw: "1.5", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseBound(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, es.ErrInvalidFilterType) {
				t.Errorf("ParseBound(%q): expected ErrInvalidFilterType, got %v", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseBound(%q): %v", tt.raw, err)
			continue
		}
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("ParseBound(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
