package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/config"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/spf13/cobra"
)

// errVolatileStore is returned by the jobs commands when the configured
// backend keeps jobs only in the memory of the server process.
var errVolatileStore = errors.New("jobs commands need a persistent store backend (file, postgres or redis)")

func newJobsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage stored generation jobs",
	}
	cmd.AddCommand(
		newJobsListCmd(opts),
		newJobsShowCmd(opts),
		newJobsDeleteCmd(opts),
		newJobsClearCmd(opts),
	)
	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, opts *cliOptions, fn func(ctx context.Context, s store.JobStore) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Backend == config.StoreMemory {
		return errVolatileStore
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, closeStore, err := openStore(ctx, cfg, commandLogger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	return fn(ctx, s)
}

func newJobsListCmd(opts *cliOptions) *cobra.Command {
	var (
		session string
		status  string
		kind    string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.Filter{Owner: session, Limit: limit}
			var err error
			if status != "" {
				if filter.Status, err = domain.ParseStatus(status); err != nil {
					return err
				}
			}
			if kind != "" {
				if filter.Kind, err = domain.ParseKind(kind); err != nil {
					return err
				}
			}

			return withStore(cmd, opts, func(ctx context.Context, s store.JobStore) error {
				jobs, err := s.List(ctx, filter)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tPROGRESS\tSESSION\tCREATED")
				for _, j := range jobs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
						j.ID, j.Kind, j.Status, j.Progress, j.Owner, j.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "only jobs of this session")
	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status")
	cmd.Flags().StringVar(&kind, "kind", "", "only jobs of this kind")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs to print (0 for all)")
	return cmd
}

func newJobsShowCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			return withStore(cmd, opts, func(ctx context.Context, s store.JobStore) error {
				job, err := s.Get(ctx, id)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(job)
			})
		},
	}
}

func newJobsDeleteCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			return withStore(cmd, opts, func(ctx context.Context, s store.JobStore) error {
				if err := s.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted job %s\n", id)
				return nil
			})
		},
	}
}

func newJobsClearCmd(opts *cliOptions) *cobra.Command {
	var (
		session string
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every job of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if session == "" && !all {
				return errors.New("--session is required (use --all to delete every job)")
			}
			return withStore(cmd, opts, func(ctx context.Context, s store.JobStore) error {
				n, err := s.Clear(ctx, session)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d jobs\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session whose jobs are deleted")
	cmd.Flags().BoolVar(&all, "all", false, "delete the jobs of every session")
	return cmd
}
