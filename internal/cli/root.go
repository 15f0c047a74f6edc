// Package cli builds the pupstore command tree.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/getpup/pupstore/es/command"
	"github.com/getpup/pupstore/internal/app"
	"github.com/getpup/pupstore/internal/config"
	"github.com/getpup/pupstore/internal/logging"
	"github.com/getpup/pupstore/internal/telemetry"
)

type options struct {
	configPath string
}

// NewRoot constructs the root command and registers every subcommand.
func NewRoot() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "pupstore",
		Short:         "Append-only changeset event store",
		Long:          "pupstore commits changesets to streams under optimistic concurrency and assigns them a global order.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML, TOML or JSON config file")

	root.AddCommand(
		newServeCommand(opts),
		newCommitCommand(opts),
		newReadCommand(opts),
		newIndexCommand(opts),
		newStatsCommand(opts),
		newMigrateCommand(opts),
		newVersionCommand(),
	)
	return root
}

// session is one opened store for the duration of a command.
type session struct {
	app      *app.App
	shutdown func(context.Context) error
}

func (s *session) dispatch(ctx context.Context, cmd command.Command) (any, error) {
	return command.Dispatch(ctx, s.app.Service, cmd)
}

func (s *session) Close(ctx context.Context) error {
	err := s.app.Close()
	if serr := s.shutdown(ctx); err == nil {
		err = serr
	}
	return err
}

// open loads configuration, installs logging and tracing, and opens the store.
// mutate may adjust the loaded configuration before the store is opened.
func open(ctx context.Context, opts *options, stderr io.Writer, mutate func(*config.Config)) (*session, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&cfg)
	}

	logger, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a, err := app.New(ctx, cfg, logging.NewAdapter(logger))
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	return &session{app: a, shutdown: shutdown}, nil
}

// withSession runs fn against an opened store and closes it afterwards.
func withSession(cmd *cobra.Command, opts *options, mutate func(*config.Config), fn func(ctx context.Context, s *session) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := open(ctx, opts, cmd.ErrOrStderr(), mutate)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(context.WithoutCancel(ctx)); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}
