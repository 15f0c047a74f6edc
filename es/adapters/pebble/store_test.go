package pebblestore

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble/vfs"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
	"github.com/getpup/pupstore/es/store/storetest"
)

func openMem(t *testing.T, fs vfs.FS) *Store {
	t.Helper()
	s, err := Open(Options{DataDir: "/pupstore", FS: fs, NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := openMem(t, vfs.NewMem())
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen_RequiresDataDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Fatal("expected error without DataDir")
	}
}

func TestReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()

	s := openMem(t, fs)
	cs := &es.Changeset{StreamID: "S", ChangesetID: 1, Events: []es.Event{{Type: "init"}}}
	if err := s.InsertChangeset(ctx, cs); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openMem(t, fs)
	defer s.Close()

	last, err := s.LastChangesetID(ctx, "S")
	if err != nil || last != 1 {
		t.Fatalf("LastChangesetID after reopen = %d, %v", last, err)
	}

	// The commit sequence survives the restart, so discovery order is kept.
	if err := s.InsertChangeset(ctx, &es.Changeset{StreamID: "T", ChangesetID: 1, Events: []es.Event{{Type: "init"}}}); err != nil {
		t.Fatal(err)
	}
	refs, err := s.ScanUnindexed(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 || refs[0].Ref.StreamID != "S" || refs[1].Ref.StreamID != "T" || refs[1].Seq != 2 {
		t.Errorf("unexpected unindexed order %v", refs)
	}
}

func TestStreamPrefixesDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	s := openMem(t, vfs.NewMem())
	defer s.Close()

	for _, stream := range []string{"order", "order-1", "orde"} {
		cs := &es.Changeset{StreamID: stream, ChangesetID: 1, Events: []es.Event{{Type: "init"}}}
		if err := s.InsertChangeset(ctx, cs); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ReadStream(ctx, "order", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].StreamID != "order" {
		t.Errorf("ReadStream(order) = %+v", got)
	}
}

func TestRefEncoding(t *testing.T) {
	ref := es.ChangesetRef{StreamID: "stream\x00with-nul", ChangesetID: 42}
	got, err := decodeRef(encodeRef(ref))
	if err != nil {
		t.Fatal(err)
	}
	if got != ref {
		t.Errorf("decodeRef = %+v, want %+v", got, ref)
	}
	if _, err := decodeRef([]byte{0, 0, 0, 9, 'x'}); err == nil {
		t.Error("expected error for truncated ref")
	}
}

func TestUpperBound(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{[]byte("ux/"), []byte("ux0")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tt := range tests {
		if got := upperBound(tt.in); string(got) != string(tt.want) {
			t.Errorf("upperBound(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
