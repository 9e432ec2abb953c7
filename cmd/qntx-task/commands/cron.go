package commands

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qntx-task/display"
	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/pulse/taskconf"
	"github.com/teranos/qntx-task/sym"
)

// CronCmd represents the cron command
var CronCmd = &cobra.Command{
	Use:   "cron",
	Short: sym.Pulse + " Validate and preview cron expressions",
	Long: sym.Pulse + ` cron — Five-field cron expressions (minute hour day-of-month month day-of-week)

Examples:
  qntx-task cron validate "0 2 * * *"
  qntx-task cron next "*/30 * * * *" --count 3`,
}

var cronValidateCmd = &cobra.Command{
	Use:   "validate <expression>",
	Short: "Check a cron expression",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronValidate,
}

var cronNextCmd = &cobra.Command{
	Use:   "next <expression>",
	Short: "Show the next run times of a cron expression",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronNext,
}

func init() {
	cronNextCmd.Flags().Int("count", 5, "Number of run times to show")
	cronNextCmd.Flags().String("timezone", "", "IANA zone to evaluate in (default: local)")

	CronCmd.AddCommand(cronValidateCmd, cronNextCmd)
}

func runCronValidate(cmd *cobra.Command, args []string) error {
	valid := taskconf.ValidCrontab(args[0])
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(map[string]interface{}{"expression": args[0], "valid": valid})
	}
	if !valid {
		_, err := taskconf.ParseCrontab(args[0])
		pterm.Error.Printfln("%q is not a valid cron expression: %v", args[0], err)
		return errors.NewInvalidRequestError("invalid cron expression %q", args[0])
	}
	pterm.Success.Printfln("%q is valid", args[0])
	return nil
}

func runCronNext(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	tz, _ := cmd.Flags().GetString("timezone")

	loc := time.Local
	if tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return errors.Wrapf(err, "invalid timezone %q", tz)
		}
	}

	times, err := taskconf.Schedule{Cron: args[0]}.Next(time.Now().In(loc), count)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(times)
	}
	for _, t := range times {
		pterm.Println(t.Format("Mon 2006-01-02 15:04 MST"))
	}
	return nil
}
