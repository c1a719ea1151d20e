package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/crisk-verify/internal/dlq"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect archived error reports",
	Long: `Error reports that recovery could not resolve are archived to
recovery.archive_path. These commands list, summarize, resolve and purge them.`,
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently updated error reports",
	Args:  cobra.NoArgs,
	RunE:  runReportsList,
}

var reportsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics",
	Args:  cobra.NoArgs,
	RunE:  runReportsStats,
}

var reportsResolveCmd = &cobra.Command{
	Use:   "resolve <fingerprint>",
	Short: "Mark an archived report as resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsResolve,
}

var reportsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete resolved reports older than a cutoff",
	Args:  cobra.NoArgs,
	RunE:  runReportsPurge,
}

func init() {
	reportsListCmd.Flags().Int("limit", 20, "maximum number of reports")
	reportsPurgeCmd.Flags().Duration("older-than", 7*24*time.Hour, "age of resolved reports to delete")

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsStatsCmd)
	reportsCmd.AddCommand(reportsResolveCmd)
	reportsCmd.AddCommand(reportsPurgeCmd)
}

// withArchive opens the configured archive for the duration of fn
func withArchive(fn func(q *dlq.Queue) error) error {
	q, err := openArchive()
	if err != nil {
		return err
	}
	if q == nil {
		return fmt.Errorf("no error archive configured (set recovery.archive_path)")
	}
	defer q.Close()
	return fn(q)
}

func runReportsList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	return withArchive(func(q *dlq.Queue) error {
		entries, err := q.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), entries)
	})
}

func runReportsStats(cmd *cobra.Command, args []string) error {
	return withArchive(func(q *dlq.Queue) error {
		stats, err := q.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), stats)
	})
}

func runReportsResolve(cmd *cobra.Command, args []string) error {
	return withArchive(func(q *dlq.Queue) error {
		if err := q.MarkResolved(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s\n", args[0])
		return nil
	})
}

func runReportsPurge(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	return withArchive(func(q *dlq.Queue) error {
		n, err := q.PurgeOld(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d report(s)\n", n)
		return nil
	})
}
