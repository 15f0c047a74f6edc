package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/command"
	"github.com/getpup/pupstore/es/globalindex"
	"github.com/getpup/pupstore/es/query"
	"github.com/getpup/pupstore/internal/config"
	"github.com/getpup/pupstore/internal/httpapi"
	pupstore "github.com/getpup/pupstore/pkg"
)

func newServeCommand(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP command API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withSession(cmd, opts, func(cfg *config.Config) {
				if addr != "" {
					cfg.HTTP.Addr = addr
				}
			}, func(ctx context.Context, s *session) error {
				return s.app.Serve(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")
	return cmd
}

func newCommitCommand(opts *options) *cobra.Command {
	var (
		streamID string
		expected int64
		file     string
	)
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit a changeset read from a file or stdin",
		Long: `Commit a changeset. The body has the same shape as the HTTP API:

  {"events": [{"type": "init", "foo": "bar"}], "metadata": {"issued_by": "me"}}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			body, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			events, metadata, err := httpapi.DecodeCommit(body)
			if err != nil {
				return err
			}

			version := es.Any()
			if cmd.Flags().Changed("expected") {
				version = es.Exact(expected)
			}

			return withSession(cmd, opts, nil, func(ctx context.Context, s *session) error {
				res, err := s.dispatch(ctx, command.Commit{
					StreamID: streamID,
					Expected: version,
					Events:   events,
					Metadata: metadata,
				})
				if err != nil {
					return err
				}
				result := res.(es.CommitResult)
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%d\n", result.StreamID, result.ChangesetID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&streamID, "stream", "", "Stream id")
	cmd.Flags().Int64Var(&expected, "expected", 0, "Expected last changeset id (0 for a new stream)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the body from a file instead of stdin")
	return cmd
}

func newReadCommand(opts *options) *cobra.Command {
	read := &cobra.Command{Use: "read", Short: "Read changesets"}

	var from, to string
	var events bool
	stream := &cobra.Command{
		Use:   "stream <stream-id>",
		Short: "Read a stream's changesets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lo, hi, err := bounds(from, to)
			if err != nil {
				return err
			}
			return withSession(cmd, opts, nil, func(ctx context.Context, s *session) error {
				out := cmd.OutOrStdout()
				if events {
					res, err := s.dispatch(ctx, command.FetchStreamEvents{StreamID: args[0], From: lo, To: hi})
					if err != nil {
						return err
					}
					for _, e := range res.(query.StreamEvents).Events {
						fmt.Fprintf(out, "%d\t%s\t%s\n", e.ChangesetID, e.Event.Type, e.Event.Payload)
					}
					return nil
				}
				res, err := s.dispatch(ctx, command.FetchStreamChangesets{StreamID: args[0], From: lo, To: hi})
				if err != nil {
					return err
				}
				sc := res.(query.StreamChangesets)
				for i := range sc.Changesets {
					printChangeset(out, &sc.Changesets[i])
				}
				return nil
			})
		},
	}
	stream.Flags().StringVar(&from, "from", "", "Lowest changeset id")
	stream.Flags().StringVar(&to, "to", "", "Highest changeset id")
	stream.Flags().BoolVar(&events, "events", false, "Print events instead of changesets")

	var gfrom, gto string
	var limit int
	global := &cobra.Command{
		Use:   "global",
		Short: "Read the global order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lo, hi, err := bounds(gfrom, gto)
			if err != nil {
				return err
			}
			return withSession(cmd, opts, nil, func(ctx context.Context, s *session) error {
				res, err := s.dispatch(ctx, command.FetchGlobalChangesets{From: lo, To: hi, Limit: limit})
				if err != nil {
					return err
				}
				changesets := res.([]es.Changeset)
				for i := range changesets {
					printChangeset(cmd.OutOrStdout(), &changesets[i])
				}
				return nil
			})
		},
	}
	global.Flags().StringVar(&gfrom, "from", "", "Lowest global index")
	global.Flags().StringVar(&gto, "to", "", "Highest global index")
	global.Flags().IntVar(&limit, "limit", 0, "Maximum number of changesets (0 for the configured default)")

	read.AddCommand(stream, global)
	return read
}

func newIndexCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Run one global indexing pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, opts, nil, func(ctx context.Context, s *session) error {
				res, err := s.dispatch(ctx, command.AssignGlobalIndexes{})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "assigned %s global indexes\n", humanize.Comma(int64(res.(globalindex.Result).Assigned)))
				return nil
			})
		},
	}
}

func newStatsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, opts, nil, func(ctx context.Context, s *session) error {
				res, err := s.dispatch(ctx, command.Stats{})
				if err != nil {
					return err
				}
				st := res.(es.Stats)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "streams:          %s\n", humanize.Comma(st.TotalStreams))
				fmt.Fprintf(out, "changesets:       %s\n", humanize.Comma(st.TotalChangesets))
				fmt.Fprintf(out, "events:           %s\n", humanize.Comma(st.TotalEvents))
				fmt.Fprintf(out, "max global index: %s\n", humanize.Comma(st.MaxGlobalIndex))
				return nil
			})
		},
	}
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the SQL schema for the configured backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, opts, func(cfg *config.Config) {
				cfg.Storage.AutoMigrate = true
			}, func(_ context.Context, s *session) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s schema ready\n", s.app.Backend.Driver)
				return nil
			})
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), pupstore.Version())
		},
	}
}

func bounds(from, to string) (*int64, *int64, error) {
	lo, err := query.ParseBound(from)
	if err != nil {
		return nil, nil, err
	}
	hi, err := query.ParseBound(to)
	if err != nil {
		return nil, nil, err
	}
	return lo, hi, es.ValidateRange(lo, hi)
}

func printChangeset(out io.Writer, cs *es.Changeset) {
	index := "-"
	if cs.Indexed() {
		index = humanize.Comma(cs.GlobalIndex)
	}
	fmt.Fprintf(out, "%s/%d\tglobal=%s\tevents=%d\tcommitted %s\n",
		cs.StreamID, cs.ChangesetID, index, len(cs.Events), humanize.Time(cs.CommittedAt))
	for _, e := range cs.Events {
		fmt.Fprintf(out, "  %s\t%s\n", e.Type, e.Payload)
	}
}
