package commands

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/qntx-task/am"
	"github.com/teranos/qntx-task/display"
	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage qntx-task configuration",
	Long: sym.AM + ` am — Manage qntx-task configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (QNTX_TASK_* prefix)
2. Project config (./task.toml)
3. User config (~/.qntx/task.toml)
4. System config (/etc/qntx-task/config.toml)
5. Default values

Runtime overrides of the task keys live in the database; see 'qntx-task config'.

Examples:
  qntx-task am show                      # Show current configuration
  qntx-task am show --format json        # Show configuration in JSON format
  qntx-task am get task.retention_days   # Get specific config value
  qntx-task am set task.timeout_minutes 45
  qntx-task am validate                  # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, task.retention_days)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a value to the user config file",
	Args:  cobra.ExactArgs(2),
	RunE:  runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and which files were checked, followed by
the source of every effective setting.`,
	RunE: runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd, amGetCmd, amSetCmd, amValidateCmd, amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	settings := am.GetViper().AllSettings()

	switch configFormat {
	case "json":
		return display.OutputJSON(settings)

	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Printf("# qntx-task configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Printf("# qntx-task configuration\n%s", string(data))

	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	v := am.GetViper()
	if !v.IsSet(args[0]) {
		return errors.NewNotFoundError("configuration key %q", args[0])
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(v.Get(args[0]))
	}
	fmt.Println(v.Get(args[0]))
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	if err := am.SetUserSetting(args[0], parseValue(args[1])); err != nil {
		return err
	}
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to reload config")
	}
	if err := cfg.Validate(); err != nil {
		pterm.Warning.Printfln("Saved, but the configuration no longer validates: %v", err)
		printHints(err)
		return nil
	}
	pterm.Success.Printfln("%s saved to %s", args[0], am.UserConfigPath())
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		pterm.Error.Printfln("Configuration is invalid: %v", err)
		printHints(err)
		return errors.Wrap(err, "configuration validation failed")
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	settings, err := am.Introspect()
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(settings)
	}

	pterm.DefaultSection.Println("Config files (lowest precedence first)")
	for _, p := range am.ConfigPaths() {
		if _, err := os.Stat(p.Path); err == nil {
			pterm.Success.Printfln("%-8s %s", p.Source, p.Path)
		} else {
			pterm.Printfln("  %-8s %s (missing)", p.Source, p.Path)
		}
	}

	pterm.DefaultSection.Println("Settings")
	rows := pterm.TableData{{"KEY", "VALUE", "SOURCE"}}
	for _, s := range settings {
		source := string(s.Source)
		if s.SourcePath != "" {
			source += " " + s.SourcePath
		}
		rows = append(rows, []string{s.Key, fmt.Sprint(s.Value), source})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
