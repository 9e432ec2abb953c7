package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/qntx-task/am"
	"github.com/teranos/qntx-task/cmd/qntx-task/commands"
	"github.com/teranos/qntx-task/logger"
)

var rootCmd = &cobra.Command{
	Use:   "qntx-task",
	Short: "qntx-task - background task execution tracking and maintenance",
	Long: `qntx-task - background task execution tracking and maintenance.

Records every dispatched background task, keeps its status in step with the
executor, and runs two periodic maintenance jobs: retention cleanup of old
execution records and timeout marking of stuck ones.

Available commands:
  task    - Register, update and inspect task executions
  config  - Manage runtime overrides of the maintenance settings
  cron    - Validate and preview cron expressions
  pulse   - Run the maintenance scheduler
  am      - Manage static configuration
  db      - Manage the execution database

Examples:
  qntx-task task ls --status STARTED      # List running executions
  qntx-task task stats --granularity day  # Today's counts per hour
  qntx-task config set timeout_minutes 30 # Override the timeout
  qntx-task pulse start                   # Start the scheduler`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			// am validate/show report the problem themselves
			cfg = &am.Config{}
		}

		verbosity, _ := cmd.Flags().GetCount("verbose")
		level := cfg.Log.Level
		if verbosity > 0 || level == "" {
			level = logger.VerbosityToLevel(verbosity).String()
		}
		if err := logger.InitializeWithLevel(cfg.Log.JSON, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json", false, "Output machine-readable JSON")

	rootCmd.AddCommand(commands.TaskCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.CronCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
