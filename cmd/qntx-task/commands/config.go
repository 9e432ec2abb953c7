package commands

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qntx-task/display"
	"github.com/teranos/qntx-task/internal/app"
	"github.com/teranos/qntx-task/pulse/taskconf"
	"github.com/teranos/qntx-task/sym"
)

// ConfigCmd represents the config (runtime overrides) command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: sym.AM + " Manage runtime overrides of the maintenance settings",
	Long: sym.AM + ` config — Runtime overrides

Overrides are stored in the database and win over the static configuration
for retention_days, timeout_minutes, cleanup_crontab and mark_timeout_crontab.
The scheduler picks them up on its next refresh.

Examples:
  qntx-task config ls
  qntx-task config set retention_days 14
  qntx-task config set cleanup_crontab "30 3 * * *"
  qntx-task config unset retention_days`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show an override",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Validate and store an override",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove an override",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigUnset,
}

var configListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List overrides and the effective values",
	RunE:    runConfigList,
}

func init() {
	ConfigCmd.AddCommand(configGetCmd, configSetCmd, configUnsetCmd, configListCmd)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		value, ok, err := a.Overrides.GetGlobal(ctx, args[0])
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			if !ok {
				return display.OutputJSON(nil)
			}
			return display.OutputJSON(value)
		}
		if !ok {
			pterm.Info.Printfln("%s is not overridden", args[0])
			return nil
		}
		pterm.Println(string(value))
		return nil
	})
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := taskconf.SetValidated(ctx, a.Overrides, args[0], args[1]); err != nil {
			printHints(err)
			return err
		}
		pterm.Success.Printfln("%s overridden", args[0])
		return nil
	})
}

func runConfigUnset(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Overrides.DeleteGlobal(ctx, args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("%s override removed", args[0])
		return nil
	})
}

func runConfigList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		overrides, err := a.Overrides.ListGlobal(ctx)
		if err != nil {
			return err
		}
		effective := a.Resolver.Effective(ctx)

		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(map[string]interface{}{"overrides": overrides, "effective": effective})
		}

		if len(overrides) == 0 {
			pterm.Info.Println("No overrides set")
		} else {
			rows := pterm.TableData{{"KEY", "VALUE", "UPDATED"}}
			for _, o := range overrides {
				rows = append(rows, []string{o.Key, string(o.Value), formatTime(&o.UpdatedAt)})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
				return err
			}
		}

		pterm.DefaultSection.Println("Effective")
		return pterm.DefaultTable.WithData(pterm.TableData{
			{taskconf.KeyRetentionDays, pterm.Sprint(effective.RetentionDays)},
			{taskconf.KeyTimeoutMinutes, pterm.Sprint(effective.TimeoutMinutes)},
			{taskconf.KeyCleanupCrontab, effective.CleanupCrontab},
			{taskconf.KeyMarkTimeoutCrontab, effective.MarkTimeoutCrontab},
		}).Render()
	})
}
