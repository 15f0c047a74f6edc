package es

import "context"

// Logger is the logging surface used by the engines, stores and processors.
// Every component treats a nil Logger as disabled, so logging costs nothing unless configured.
type Logger interface {
	// Debug logs verbose operational details.
	Debug(ctx context.Context, msg string, keyvals ...interface{})

	// Info logs significant events during normal execution.
	Info(ctx context.Context, msg string, keyvals ...interface{})

	// Error logs failures that require attention.
	Error(ctx context.Context, msg string, keyvals ...interface{})
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

// Debug implements Logger.
func (NoOpLogger) Debug(_ context.Context, _ string, _ ...interface{}) {}

// Info implements Logger.
func (NoOpLogger) Info(_ context.Context, _ string, _ ...interface{}) {}

// Error implements Logger.
func (NoOpLogger) Error(_ context.Context, _ string, _ ...interface{}) {}
