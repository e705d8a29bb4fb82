package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/docstage/docstage/pkg/stores"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and prune the job history",
		Long: `Every document operation and batch is recorded in a local SQLite
database. Passwords are never stored.`,
	}

	cmd.AddCommand(newHistoryJobsCommand(opts))
	cmd.AddCommand(newHistoryBatchesCommand(opts))
	cmd.AddCommand(newHistoryStatsCommand(opts))
	cmd.AddCommand(newHistoryPruneCommand(opts))

	return cmd
}

// withStore runs fn against the configured history store.
func withStore(cmd *cobra.Command, opts *globalOptions, fn func(store stores.Store) error) error {
	a, err := newApp(cmd.Context(), opts, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	if a.store == nil {
		return usagef("history is disabled in the configuration")
	}
	return fn(a.store)
}

func newHistoryJobsCommand(opts *globalOptions) *cobra.Command {
	var (
		filter stores.JobFilter
		status string
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recorded jobs, newest first",
		Example: `  # Last 20 jobs
  docstage history jobs

  # Failed decryptions during the last day
  docstage history jobs --operation decrypt --status failed --since 24h

  # Items of one batch
  docstage history jobs --batch 2c6f...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch stores.JobStatus(status) {
			case "", stores.JobStatusSucceeded, stores.JobStatusFailed:
				filter.Status = stores.JobStatus(status)
			default:
				return usagef("invalid --status %q (succeeded or failed)", status)
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			return withStore(cmd, opts, func(store stores.Store) error {
				jobs, err := store.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), jobs)
				}
				return printJobs(cmd.OutOrStdout(), jobs)
			})
		},
	}

	cmd.Flags().StringVar(&filter.Operation, "operation", "", "only jobs of this operation")
	cmd.Flags().StringVar(&status, "status", "", "only jobs with this status (succeeded, failed)")
	cmd.Flags().StringVar(&filter.BatchID, "batch", "", "only jobs of this batch")
	cmd.Flags().DurationVar(&since, "since", 0, "only jobs started within this duration")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum number of jobs (0 for all)")

	return cmd
}

func newHistoryBatchesCommand(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List recorded batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(store stores.Store) error {
				batches, err := store.ListBatches(cmd.Context(), limit, 0)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), batches)
				}
				return printBatches(cmd.OutOrStdout(), batches)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of batches (0 for all)")

	return cmd
}

func newHistoryStatsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show success and failure counts per operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(store stores.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), stats)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "OPERATION\tSUCCEEDED\tFAILED")
				for _, s := range stats {
					fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Operation, s.Succeeded, s.Failed)
				}
				return tw.Flush()
			})
		},
	}
}

func newHistoryPruneCommand(opts *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete history older than a duration",
		Example: `  # Keep one week of history
  docstage history prune --older-than 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return usagef("--older-than must be positive")
			}
			return withStore(cmd, opts, func(store stores.Store) error {
				deleted, err := store.DeleteJobsBefore(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]int64{"deleted_jobs": deleted})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d jobs\n", deleted)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the oldest history to keep")

	return cmd
}

func printJobs(w io.Writer, jobs []*stores.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tOPERATION\tINPUT\tSTATUS\tSIZE\tDURATION\tDETAIL")
	for _, j := range jobs {
		detail := ""
		if j.FailureKind != nil {
			detail = *j.FailureKind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(j.StartedAt),
			j.Operation,
			j.InputName,
			j.Status,
			humanize.Bytes(uint64(j.InputBytes)),
			j.Duration().Round(time.Millisecond),
			detail,
		)
	}
	return tw.Flush()
}

func printBatches(w io.Writer, batches []*stores.Batch) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tID\tOPERATION\tTOTAL\tSUCCEEDED\tFAILED\tARCHIVE")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			humanize.Time(b.StartedAt),
			b.ID,
			b.Operation,
			b.Total,
			b.SuccessCount,
			b.FailureCount,
			humanize.Bytes(uint64(b.ArchiveBytes)),
		)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
