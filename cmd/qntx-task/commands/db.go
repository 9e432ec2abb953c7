package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qntx-task/am"
	"github.com/teranos/qntx-task/db"
	"github.com/teranos/qntx-task/display"
	"github.com/teranos/qntx-task/internal/app"
	"github.com/teranos/qntx-task/pulse/task"
	"github.com/teranos/qntx-task/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the execution database",
	Long: sym.DB + ` db — Manage the execution database

Examples:
  qntx-task db migrate   # Apply pending migrations and list them
  qntx-task db stats     # Show row counts per status`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd, dbStatsCmd)
}

// Opening the app already migrates; migrate reports what is recorded.
func runDbMigrate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		applied, err := db.AppliedMigrations(ctx, a.DB)
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(map[string]interface{}{"dialect": a.DB.Dialect, "applied": applied})
		}
		for _, v := range applied {
			pterm.Success.Println(v)
		}
		pterm.Info.Printfln("%d migrations applied (%s)", len(applied), a.DB.Dialect)
		return nil
	})
}

func runDbStats(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		stats, err := a.Tracker.Stats(ctx, task.StatsFilter{})
		if err != nil {
			return err
		}
		overrides, err := a.Overrides.ListGlobal(ctx)
		if err != nil {
			return err
		}

		location := a.Config.Database.Path
		if a.Config.Database.Driver == am.DriverPostgres {
			location = "postgres"
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(map[string]interface{}{
				"database":   location,
				"executions": stats.StatusCounts,
				"modules":    len(stats.ByModule),
				"task_names": len(stats.ByTaskName),
				"overrides":  len(overrides),
			})
		}

		fmt.Printf("%s Database Statistics\n", sym.DB)
		fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
		fmt.Printf("Database:        %s\n", location)
		fmt.Printf("Executions:      %d\n", stats.Total)
		for _, s := range task.AllStatuses {
			fmt.Printf("  %-13s %d\n", s, stats.Get(s))
		}
		fmt.Printf("Modules:         %d\n", len(stats.ByModule))
		fmt.Printf("Task names:      %d\n", len(stats.ByTaskName))
		fmt.Printf("Overrides:       %d\n", len(overrides))
		return nil
	})
}
