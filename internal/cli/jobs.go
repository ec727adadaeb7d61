package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"udata-harvest/internal/domain/entity"
)

var (
	jobsLimit        int
	jobsLast         bool
	purgeJobsDays    int
	purgeDeletedDays int
	graphOutput      string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs <source>",
	Short: "List the jobs of a source",
	Long: `List the most recent jobs of a source, newest first.

Examples:
  harvestctl jobs open-data-paris
  harvestctl jobs open-data-paris --last`,
	Args: cobra.ExactArgs(1),
	RunE: runJobs,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Apply the retention policy now",
	Long: `Delete jobs older than the job retention and hard-delete sources
soft-deleted longer than the source retention. The worker does the same
on its retention schedule.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

var graphCmd = &cobra.Command{
	Use:   "graph <blob-key>",
	Short: "Download a stored remote graph page",
	Long: `Write a DCAT graph page kept in object storage to stdout or a file.
Keys are listed by "harvestctl jobs <source> --last".`,
	Args: cobra.ExactArgs(1),
	RunE: runGraph,
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List harvest backends with their filters and features",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printBackends(cmd.OutOrStdout(), application.Registry.Infos())
		return nil
	},
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "max jobs")
	jobsCmd.Flags().BoolVar(&jobsLast, "last", false, "show details of the last job")
	purgeCmd.Flags().IntVar(&purgeJobsDays, "jobs-days", 365, "job retention in days")
	purgeCmd.Flags().IntVar(&purgeDeletedDays, "deleted-days", 30, "deleted source retention in days")
	graphCmd.Flags().StringVarP(&graphOutput, "output", "o", "", "write to file instead of stdout")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	src, err := resolveSource(ctx, application.Sources, args[0])
	if err != nil {
		return err
	}

	if jobsLast {
		job, err := application.Jobs.GetLastJob(ctx, src.ID)
		if errors.Is(err, entity.ErrNotFound) || (err == nil && job == nil) {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
			return nil
		}
		if err != nil {
			return fmt.Errorf("get last job: %w", err)
		}
		printJob(cmd.OutOrStdout(), src, job, true)
		return nil
	}

	jobs, err := application.Jobs.ListJobs(ctx, src.ID, jobsLimit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
		return nil
	}
	printJobs(cmd.OutOrStdout(), jobs)
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if purgeJobsDays < 1 || purgeDeletedDays < 0 {
		return fmt.Errorf("retention must be positive")
	}

	jobs, err := application.Jobs.PurgeJobs(ctx, purgeJobsDays)
	if err != nil {
		return fmt.Errorf("purge jobs: %w", err)
	}
	sources, err := application.Sources.PurgeDeleted(ctx, time.Duration(purgeDeletedDays)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("purge deleted sources: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d job(s) and %d deleted source(s).\n", jobs, sources)
	return nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	if application.Blobs == nil {
		return fmt.Errorf("object storage is not configured (MINIO_ENDPOINT)")
	}
	data, err := application.Blobs.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get graph: %w", err)
	}
	if graphOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(graphOutput, data, 0o600)
}
