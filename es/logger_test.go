package es_test

import (
	"context"
	"testing"

	"github.com/getpup/pupstore/es"
)

func TestNoOpLogger(t *testing.T) {
	ctx := context.Background()
	var logger es.Logger = es.NoOpLogger{}

	// These should not panic
	logger.Debug(ctx, "debug message", "stream_id", "s1")
	logger.Info(ctx, "info message", "changeset_id", 1)
	logger.Error(ctx, "error message", "error", context.Canceled)
}
