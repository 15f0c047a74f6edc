// Package logging builds the slog logger used by the pupstore binary and bridges
// it to es.Logger for the library packages.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/getpup/pupstore/es"
)

// ParseLevel maps debug, info, warn and error (case-insensitive) to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// New returns a logger writing to w. format is "json" or "text"; text output
// is coloured only when w is a terminal.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	case "", "text":
		handler = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(handler), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Adapter exposes a *slog.Logger as an es.Logger.
type Adapter struct {
	logger *slog.Logger
}

var _ es.Logger = (*Adapter)(nil)

// NewAdapter wraps logger. A nil logger yields a nil es.Logger so that
// components skip logging entirely.
func NewAdapter(logger *slog.Logger) es.Logger {
	if logger == nil {
		return nil
	}
	return &Adapter{logger: logger}
}

// Debug implements es.Logger.
func (a *Adapter) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	a.logger.DebugContext(ctx, msg, keyvals...)
}

// Info implements es.Logger.
func (a *Adapter) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	a.logger.InfoContext(ctx, msg, keyvals...)
}

// Error implements es.Logger.
func (a *Adapter) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	a.logger.ErrorContext(ctx, msg, keyvals...)
}
