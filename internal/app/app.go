// Package app wires configuration, storage and the engines into a runnable store.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/command"
	"github.com/getpup/pupstore/es/commit"
	"github.com/getpup/pupstore/es/globalindex"
	"github.com/getpup/pupstore/es/query"
	"github.com/getpup/pupstore/es/store"
	"github.com/getpup/pupstore/internal/config"
	"github.com/getpup/pupstore/internal/httpapi"
	"github.com/getpup/pupstore/internal/storage"
)

// App holds the opened backend and the engines built over it.
type App struct {
	Config   config.Config
	Backend  *storage.Backend
	Appender *commit.Appender
	Indexer  *globalindex.Indexer
	Reader   *query.Reader
	Service  *command.Service

	logger es.Logger
}

// New opens the configured backend and builds the engines. The caller must Close the App.
func New(ctx context.Context, cfg config.Config, logger es.Logger) (*App, error) {
	backend, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return newApp(cfg, backend, logger), nil
}

func newApp(cfg config.Config, backend *storage.Backend, logger es.Logger) *App {
	retry := RetryPolicy(cfg.Retry, logger)

	indexer := globalindex.New(backend.Store, globalindex.Config{
		Logger:      logger,
		Retry:       retry,
		BatchSize:   cfg.Indexer.BatchSize,
		MaxAttempts: cfg.Indexer.MaxAttempts,
	})

	opts := []commit.Option{
		commit.WithLogger(logger),
		commit.WithRetryPolicy(retry),
		commit.WithMaxRaceRetries(cfg.Commit.MaxRaceRetries),
	}
	if cfg.Indexer.Mode == config.IndexerSync {
		opts = append(opts, commit.WithAfterCommit(func(ctx context.Context, _ es.CommitResult) {
			// The commit already succeeded; a failed pass is logged by the
			// indexer and its changesets are picked up by the next pass.
			_, _ = indexer.AssignGlobalIndexes(context.WithoutCancel(ctx))
		}))
	}
	appender := commit.NewAppender(backend.Store, commit.NewConfig(opts...))

	reader := query.NewReader(backend.Store, query.Config{
		Logger:       logger,
		Retry:        retry,
		DefaultLimit: cfg.Read.DefaultLimit,
		MaxLimit:     cfg.Read.MaxLimit,
	})

	return &App{
		Config:   cfg,
		Backend:  backend,
		Appender: appender,
		Indexer:  indexer,
		Reader:   reader,
		Service:  command.NewService(appender, indexer, reader),
		logger:   logger,
	}
}

// RetryPolicy converts the retry settings, logging every retry when a logger is set.
func RetryPolicy(cfg config.RetryConfig, logger es.Logger) store.RetryPolicy {
	policy := store.RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
	}
	if logger != nil {
		policy.OnRetry = func(err error, delay time.Duration) {
			logger.Debug(context.Background(), "retrying storage operation", "error", err, "delay", delay)
		}
	}
	return policy
}

// Serve runs the HTTP server, plus the sweeper in sweep mode, until ctx is cancelled
// or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	server := httpapi.New(a.Service, a.logger)
	g.Go(func() error {
		return server.Run(gctx, a.Config.HTTP.Addr)
	})

	if a.Config.Indexer.Mode == config.IndexerSweep {
		sweeper := globalindex.NewSweeper(a.Indexer, a.Config.Indexer.Interval)
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}

	if a.logger != nil {
		a.logger.Info(ctx, "pupstore started",
			"driver", a.Backend.Driver,
			"indexer_mode", a.Config.Indexer.Mode,
			"addr", a.Config.HTTP.Addr)
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases the backend.
func (a *App) Close() error {
	return a.Backend.Close()
}
