package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"udata-harvest/internal/observability/logging"
)

var runVerbose bool

var runCmd = &cobra.Command{
	Use:   "run <source>",
	Short: "Harvest a source now",
	Long: `Run one harvest of a source immediately, outside of its schedule.

The job is persisted and notifications are sent as for scheduled runs.
Interrupting the command cancels the run; the job is then recorded as failed.

Examples:
  harvestctl run open-data-paris
  harvestctl run 0f8fad5b-d9cb-469f-a165-70867728950e -v`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var previewCmd = &cobra.Command{
	Use:   "preview <source>",
	Short: "Show what a harvest would do without writing anything",
	Long: `Run the harvest pipeline on the first records of a source without
persisting datasets or jobs. Pending sources can be previewed before
they are accepted.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

func init() {
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "list every item, not only failures")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := resolveSource(ctx, application.Sources, args[0])
	if err != nil {
		return err
	}

	runID := logging.NewRunID()
	ctx = logging.ContextWithRunID(ctx, runID)
	ctx = logging.WithLogger(ctx, logger.With(slog.String("run_id", runID), slog.String("source", src.Slug)))

	job, err := application.Harvest.Run(ctx, src.ID)
	if job != nil {
		printJob(cmd.OutOrStdout(), src, job, runVerbose)
	}
	if err != nil {
		return fmt.Errorf("harvest %s: %w", src.Slug, err)
	}
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	src, err := resolveSource(ctx, application.Sources, args[0])
	if err != nil {
		return err
	}
	job, err := application.Harvest.Preview(ctx, src.ID)
	if job != nil {
		printPreview(cmd.OutOrStdout(), job)
	}
	if err != nil {
		return fmt.Errorf("preview %s: %w", src.Slug, err)
	}
	return nil
}
