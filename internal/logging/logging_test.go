package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", "json")
	if err != nil {
		t.Fatal(err)
	}

	adapter := NewAdapter(logger)
	adapter.Debug(context.Background(), "hidden")
	adapter.Info(context.Background(), "changeset committed", "stream_id", "S", "changeset_id", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatal(err)
	}
	if record["msg"] != "changeset committed" || record["stream_id"] != "S" || record["changeset_id"] != float64(3) {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestNew_TextWithoutTerminalHasNoColor(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "text")
	if err != nil {
		t.Fatal(err)
	}
	NewAdapter(logger).Error(context.Background(), "pass failed", "err", "boom")

	out := buf.String()
	if !strings.Contains(out, "pass failed") || !strings.Contains(out, "err=boom") {
		t.Errorf("unexpected output %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("expected no ANSI escapes for a non-terminal writer, got %q", out)
	}
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewAdapter_Nil(t *testing.T) {
	if NewAdapter(nil) != nil {
		t.Fatal("expected nil logger for nil slog logger")
	}
}
