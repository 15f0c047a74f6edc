package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/internal/config"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.StorageConfig
	}{
		{name: "memory", cfg: config.StorageConfig{Driver: config.DriverMemory}},
		{name: "sqlite", cfg: config.StorageConfig{Driver: config.DriverSQLite, DSN: filepath.Join(dir, "pupstore.db"), AutoMigrate: true}},
		{name: "pebble", cfg: config.StorageConfig{Driver: config.DriverPebble, DataDir: filepath.Join(dir, "pebble")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend, err := Open(ctx, tt.cfg, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer func() {
				if err := backend.Close(); err != nil {
					t.Errorf("Close: %v", err)
				}
			}()

			cs := &es.Changeset{StreamID: "S", ChangesetID: 1, Events: []es.Event{{Type: "init", Payload: []byte(`{}`)}}}
			if err := backend.Store.InsertChangeset(ctx, cs); err != nil {
				t.Fatalf("InsertChangeset: %v", err)
			}
			last, err := backend.Store.LastChangesetID(ctx, "S")
			if err != nil || last != 1 {
				t.Fatalf("LastChangesetID = %d, %v", last, err)
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.StorageConfig{Driver: "dynamo"}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestBackend_CloseNil(t *testing.T) {
	var b *Backend
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
}
