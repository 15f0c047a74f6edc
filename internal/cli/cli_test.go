package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getpup/pupstore/es"
	pupstore "github.com/getpup/pupstore/pkg"
)

// useSQLite points the CLI at a fresh database so state survives between invocations.
func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("PUPSTORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("PUPSTORE_STORAGE_DSN", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("PUPSTORE_INDEXER_MODE", "off")
	t.Setenv("PUPSTORE_LOG_LEVEL", "error")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != pupstore.Version() {
		t.Errorf("version = %q", out)
	}
}

func TestCommitIndexRead(t *testing.T) {
	useSQLite(t)
	body := `{"events":[{"type":"init","foo":"bar"},{"type":"update","foo":"baz"}],"metadata":{"issued_by":"cli"}}`

	out, err := run(t, body, "commit", "--stream", "S", "--expected", "0")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "S/1" {
		t.Fatalf("commit printed %q", out)
	}

	if _, err := run(t, body, "commit", "--stream", "S", "--expected", "0"); !errors.Is(err, es.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	out, err = run(t, "", "index")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "assigned 1 global indexes") {
		t.Errorf("index printed %q", out)
	}

	out, err = run(t, "", "read", "global")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "S/1\tglobal=1\tevents=2") || !strings.Contains(out, `{"type":"update","foo":"baz"}`) {
		t.Errorf("read global printed %q", out)
	}

	out, err = run(t, "", "read", "stream", "S", "--events")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1\tinit\t") || !strings.Contains(out, "1\tupdate\t") {
		t.Errorf("read stream --events printed %q", out)
	}

	out, err = run(t, "", "stats")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "events:           2") {
		t.Errorf("stats printed %q", out)
	}
}

func TestReadErrors(t *testing.T) {
	useSQLite(t)

	if _, err := run(t, "", "read", "stream", "missing"); !errors.Is(err, es.ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
	if _, err := run(t, "", "read", "stream", "S", "--from", "x"); !errors.Is(err, es.ErrInvalidFilterType) {
		t.Errorf("expected ErrInvalidFilterType, got %v", err)
	}
	if _, err := run(t, "", "read", "global", "--from", "5", "--to", "1"); !errors.Is(err, es.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestCommitRejectsBadBody(t *testing.T) {
	useSQLite(t)
	if _, err := run(t, `not json`, "commit", "--stream", "S"); err == nil {
		t.Fatal("expected error for malformed body")
	}
	if _, err := run(t, `{"events":[{"type":"init"}]}`, "commit"); !errors.Is(err, es.ErrMissingStreamID) {
		t.Fatalf("expected ErrMissingStreamID, got %v", err)
	}
}

func TestMigrate(t *testing.T) {
	useSQLite(t)
	out, err := run(t, "", "migrate")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "sqlite schema ready" {
		t.Errorf("migrate printed %q", out)
	}
}
