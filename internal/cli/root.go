// Package cli provides the harvestctl command-line interface: source
// management, one-off harvest runs and previews, job history and retention.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"udata-harvest/internal/app"
	"udata-harvest/internal/config"
	"udata-harvest/internal/infra/db"
	workerPkg "udata-harvest/internal/infra/worker"
	"udata-harvest/internal/observability/logging"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	logFile string
	quiet   bool

	// Wired on demand by PersistentPreRunE
	database    *sql.DB
	application *app.App
	logger      *slog.Logger
	closeLog    func() error
)

var rootCmd = &cobra.Command{
	Use:   "harvestctl",
	Short: "Manage harvest sources and run harvests",
	Long: `harvestctl drives the harvester from the command line.

It shares the worker's configuration (DATABASE_URL, HARVEST_*, MINIO_*, ...)
and can be used to declare sources, moderate them, run or preview a harvest
immediately and inspect job history.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" ||
			(cmd.HasParent() && cmd.Parent().Name() == "completion") {
			return nil
		}
		_ = godotenv.Load()

		level := logging.LevelFromEnv()
		if quiet {
			level = slog.LevelWarn
		}
		logger, closeLog = logging.NewFileLogger(os.Stderr, logFile, level)
		slog.SetDefault(logger)

		ctx := cmd.Context()
		var err error
		database, err = db.Open(ctx, os.Getenv("DATABASE_URL"), logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		if err := db.MigrateUp(ctx, database); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		application, err = app.New(ctx, database, app.Options{
			Harvest:              workerPkg.LoadHarvestConfig(logger, nil),
			Integrations:         config.LoadIntegrationsConfig(logger),
			DisableNotifications: !notifyCommands[cmd.Name()],
		}, logger)
		if err != nil {
			return fmt.Errorf("wire application: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := application.Close(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: pending notifications lost: %v\n", err)
			}
		}
		if database != nil {
			if err := database.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// notifyCommands publish their events like the worker does. Everything
// else is read-only or administrative.
var notifyCommands = map[string]bool{
	"run":    true,
	"import": true,
}

// Execute adds all child commands to the root command and runs it.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", os.Getenv("HARVEST_LOG_FILE"), "also write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")

	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(backendsCmd)
}
