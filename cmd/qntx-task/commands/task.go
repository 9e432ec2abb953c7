package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qntx-task/display"
	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/internal/app"
	"github.com/teranos/qntx-task/pulse/reconcile"
	"github.com/teranos/qntx-task/pulse/task"
	"github.com/teranos/qntx-task/sym"
)

// TaskCmd represents the task command
var TaskCmd = &cobra.Command{
	Use:   "task",
	Short: sym.Pulse + " Register, update and inspect task executions",
	Long: sym.Pulse + ` task — Track background task executions

Every dispatched background task is recorded by the id the executor gave it.
Tasks report their own transitions; sync reconciles the rest against the
executor's result backend.

Examples:
  qntx-task task register 7f1c send_report reports
  qntx-task task update 7f1c STARTED
  qntx-task task get 7f1c --sync
  qntx-task task ls --module reports --status FAILURE
  qntx-task task stats --start 2026-03-01 --end 2026-03-31 --granularity month
  qntx-task task cleanup --retention-days 30
  qntx-task task mark-timeout --timeout-minutes 15`,
}

var taskRegisterCmd = &cobra.Command{
	Use:   "register <execution-id> <task-name> <module>",
	Short: "Register a dispatched execution",
	Args:  cobra.ExactArgs(3),
	RunE:  runTaskRegister,
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <execution-id> <status>",
	Short: "Apply a status transition",
	Long:  "Apply a status transition. Status is one of PENDING, STARTED, SUCCESS, FAILURE, RETRY, REVOKED.",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskUpdate,
}

var taskGetCmd = &cobra.Command{
	Use:   "get <execution-id>",
	Short: "Show one execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskGet,
}

var taskListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List executions",
	RunE:    runTaskList,
}

var taskStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show execution counts by status, module and task",
	RunE:  runTaskStats,
}

var taskSyncCmd = &cobra.Command{
	Use:   "sync [execution-id]",
	Short: "Sync one execution, or every unfinished one, from the executor",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskSync,
}

var taskCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete executions older than the retention period",
	RunE:  runTaskCleanup,
}

var taskMarkTimeoutCmd = &cobra.Command{
	Use:   "mark-timeout",
	Short: "Fail STARTED executions that exceeded the timeout",
	RunE:  runTaskMarkTimeout,
}

func init() {
	taskRegisterCmd.Flags().String("args", "", "Positional arguments as a JSON array")
	taskRegisterCmd.Flags().String("kwargs", "", "Keyword arguments as a JSON object")
	taskRegisterCmd.Flags().String("created-by", "", "Principal that dispatched the task")
	taskRegisterCmd.Flags().String("metadata", "", "Metadata as a JSON object")
	taskRegisterCmd.Flags().String("status", "", "Initial status (default PENDING)")

	taskUpdateCmd.Flags().String("result", "", "Result as JSON")
	taskUpdateCmd.Flags().String("error", "", "Error message")
	taskUpdateCmd.Flags().String("traceback", "", "Traceback")
	taskUpdateCmd.Flags().String("metadata", "", "Metadata to merge, as a JSON object")

	taskGetCmd.Flags().Bool("sync", false, "Sync from the executor before reading")

	taskListCmd.Flags().String("module", "", "Filter by module")
	taskListCmd.Flags().String("task", "", "Filter by task name")
	taskListCmd.Flags().String("status", "", "Filter by status")
	taskListCmd.Flags().String("created-by", "", "Filter by principal")
	taskListCmd.Flags().String("since", "", "Created on or after (YYYY-MM-DD)")
	taskListCmd.Flags().String("until", "", "Created on or before (YYYY-MM-DD)")
	taskListCmd.Flags().String("order", "-created_at", "Sort column, '-' prefix for descending")
	taskListCmd.Flags().Int("limit", 50, "Maximum rows")
	taskListCmd.Flags().Int("offset", 0, "Rows to skip")

	taskStatsCmd.Flags().String("module", "", "Filter by module")
	taskStatsCmd.Flags().String("task", "", "Filter by task name")
	taskStatsCmd.Flags().String("created-by", "", "Filter by principal")
	taskStatsCmd.Flags().String("start", "", "First day (YYYY-MM-DD)")
	taskStatsCmd.Flags().String("end", "", "Last day (YYYY-MM-DD)")
	taskStatsCmd.Flags().String("granularity", "", "Series granularity: day, month or year")

	taskSyncCmd.Flags().Int("max", 0, "Maximum executions to sync, 0 = all")

	taskCleanupCmd.Flags().Int("retention-days", 0, "Override retention_days")
	taskCleanupCmd.Flags().Bool("only-completed", true, "Only delete completed executions")
	taskCleanupCmd.Flags().Int("batch-size", 0, "Rows per delete batch")

	taskCleanupCmd.Flags().Bool("run", false, "Run as a tracked, locked periodic job")

	taskMarkTimeoutCmd.Flags().Int("timeout-minutes", 0, "Override timeout_minutes")
	taskMarkTimeoutCmd.Flags().Bool("run", false, "Run as a tracked, locked periodic job")

	TaskCmd.AddCommand(taskRegisterCmd, taskUpdateCmd, taskGetCmd, taskListCmd, taskStatsCmd,
		taskSyncCmd, taskCleanupCmd, taskMarkTimeoutCmd)
}

func jsonObject(raw, flag string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, errors.NewInvalidRequestError("--%s must be a JSON object: %v", flag, err)
	}
	return m, nil
}

func jsonRaw(raw, flag string) (json.RawMessage, error) {
	if raw == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, errors.NewInvalidRequestError("--%s is not valid JSON", flag)
	}
	return json.RawMessage(raw), nil
}

func runTaskRegister(cmd *cobra.Command, args []string) error {
	p := task.RegisterParams{ExecutionID: args[0], TaskName: args[1], Module: args[2]}

	var err error
	argsFlag, _ := cmd.Flags().GetString("args")
	if p.Args, err = jsonRaw(argsFlag, "args"); err != nil {
		return err
	}
	kwargsFlag, _ := cmd.Flags().GetString("kwargs")
	if p.Kwargs, err = jsonRaw(kwargsFlag, "kwargs"); err != nil {
		return err
	}
	metaFlag, _ := cmd.Flags().GetString("metadata")
	if p.Metadata, err = jsonObject(metaFlag, "metadata"); err != nil {
		return err
	}
	p.CreatedBy = optionalString(cmd, "created-by")
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		if p.InitialStatus, err = task.ParseStatus(s); err != nil {
			return err
		}
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		e, err := a.Tracker.Register(ctx, p)
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(e)
		}
		pterm.Success.Printfln("Registered %s (%s)", e.ExecutionID, e.Status)
		return nil
	})
}

func runTaskUpdate(cmd *cobra.Command, args []string) error {
	status, err := task.ParseStatus(args[1])
	if err != nil {
		return err
	}
	p := task.UpdateParams{Status: status}

	resultFlag, _ := cmd.Flags().GetString("result")
	result, err := jsonRaw(resultFlag, "result")
	if err != nil {
		return err
	}
	if result != nil {
		p.Result = result
	}
	p.Error = optionalString(cmd, "error")
	p.Traceback = optionalString(cmd, "traceback")
	metaFlag, _ := cmd.Flags().GetString("metadata")
	if p.Metadata, err = jsonObject(metaFlag, "metadata"); err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		e, err := a.Tracker.UpdateStatus(ctx, args[0], p)
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(e)
		}
		pterm.Success.Printfln("%s is now %s", e.ExecutionID, e.Status)
		return nil
	})
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	sync, _ := cmd.Flags().GetBool("sync")
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		e, err := a.Tracker.Get(ctx, args[0], sync)
		if err != nil {
			return err
		}
		if e == nil {
			return errors.NewNotFoundError("task execution %s", args[0])
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(e)
		}
		printExecution(e)
		return nil
	})
}

func printExecution(e *task.Execution) {
	rows := pterm.TableData{
		{"execution_id", e.ExecutionID},
		{"task", e.TaskName},
		{"module", e.Module},
		{"status", string(e.Status)},
		{"created", formatTime(&e.CreatedAt)},
		{"started", formatTime(e.StartedAt)},
		{"finished", formatTime(e.FinishedAt)},
		{"created_by", deref(e.CreatedBy)},
	}
	if d, ok := e.Duration(time.Now()); ok {
		rows = append(rows, []string{"duration", d.Round(time.Millisecond).String()})
	}
	if len(e.Result) > 0 {
		rows = append(rows, []string{"result", string(e.Result)})
	}
	if e.Error != nil {
		rows = append(rows, []string{"error", *e.Error})
	}
	if len(e.Metadata) > 0 {
		meta, _ := json.Marshal(e.Metadata)
		rows = append(rows, []string{"metadata", string(meta)})
	}
	_ = pterm.DefaultTable.WithData(rows).Render()

	if e.Traceback != nil {
		pterm.DefaultSection.Println("Traceback")
		fmt.Println(*e.Traceback)
	}
}

func dateFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return nil, nil
	}
	t, err := task.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	f := task.Filter{CreatedBy: optionalString(cmd, "created-by")}
	f.Module, _ = cmd.Flags().GetString("module")
	f.TaskName, _ = cmd.Flags().GetString("task")
	f.OrderBy, _ = cmd.Flags().GetString("order")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	f.Offset, _ = cmd.Flags().GetInt("offset")

	var err error
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		if f.Status, err = task.ParseStatus(s); err != nil {
			return err
		}
	}
	if f.Since, err = dateFlag(cmd, "since"); err != nil {
		return err
	}
	if f.Until, err = dateFlag(cmd, "until"); err != nil {
		return err
	}
	if f.Until != nil {
		end := f.Until.Add(24*time.Hour - time.Microsecond)
		f.Until = &end
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		executions, err := a.Tracker.List(ctx, f)
		if err != nil {
			return err
		}
		total, err := a.Tracker.Count(ctx, task.Filter{
			Module: f.Module, TaskName: f.TaskName, Status: f.Status,
			CreatedBy: f.CreatedBy, Since: f.Since, Until: f.Until,
		})
		if err != nil {
			return err
		}

		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(map[string]interface{}{"total": total, "executions": executions})
		}
		if len(executions) == 0 {
			pterm.Info.Println("No task executions found")
			return nil
		}

		rows := pterm.TableData{{"EXECUTION ID", "TASK", "MODULE", "STATUS", "CREATED", "FINISHED"}}
		for _, e := range executions {
			rows = append(rows, []string{
				e.ExecutionID, e.TaskName, e.Module, statusColor(e.Status),
				formatTime(&e.CreatedAt), formatTime(e.FinishedAt),
			})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		pterm.Printfln("%d of %d", len(executions), total)
		return nil
	})
}

func statusColor(s task.Status) string {
	switch s {
	case task.StatusSuccess:
		return pterm.Green(string(s))
	case task.StatusFailure, task.StatusRevoked:
		return pterm.Red(string(s))
	case task.StatusRetry:
		return pterm.Yellow(string(s))
	default:
		return pterm.LightCyan(string(s))
	}
}

func runTaskStats(cmd *cobra.Command, args []string) error {
	f := task.StatsFilter{CreatedBy: optionalString(cmd, "created-by")}
	f.Module, _ = cmd.Flags().GetString("module")
	f.TaskName, _ = cmd.Flags().GetString("task")
	f.Granularity, _ = cmd.Flags().GetString("granularity")

	var err error
	if f.Start, err = dateFlag(cmd, "start"); err != nil {
		return err
	}
	if f.End, err = dateFlag(cmd, "end"); err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		stats, err := a.Tracker.Stats(ctx, f)
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(stats)
		}

		header := []string{"", "TOTAL"}
		for _, s := range task.AllStatuses {
			header = append(header, string(s))
		}
		rows := pterm.TableData{header, countsRow("all", &stats.StatusCounts)}
		for _, name := range sortedKeys(stats.ByModule) {
			rows = append(rows, countsRow("module "+name, stats.ByModule[name]))
		}
		for _, name := range sortedKeys(stats.ByTaskName) {
			rows = append(rows, countsRow("task "+name, stats.ByTaskName[name]))
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()

		if len(stats.Series) > 0 {
			bars := make(pterm.Bars, 0, len(stats.Series))
			for _, b := range stats.Series {
				bars = append(bars, pterm.Bar{Label: b.Bucket, Value: int(b.Count)})
			}
			pterm.DefaultSection.Println("Series")
			_ = pterm.DefaultBarChart.WithHorizontal().WithShowValue().WithBars(bars).Render()
		}
		return nil
	})
}

func countsRow(label string, c *task.StatusCounts) []string {
	row := []string{label, fmt.Sprint(c.Total)}
	for _, s := range task.AllStatuses {
		row = append(row, fmt.Sprint(c.Get(s)))
	}
	return row
}

func runTaskSync(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if len(args) == 1 {
			e := a.Tracker.SyncFromExecutor(ctx, args[0])
			if e == nil {
				return errors.Newf("could not sync %s (see log)", args[0])
			}
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(e)
			}
			pterm.Success.Printfln("%s is %s", e.ExecutionID, e.Status)
			return nil
		}

		maxSync, _ := cmd.Flags().GetInt("max")
		summary, err := a.Tracker.SyncAllUnfinished(ctx, maxSync)
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(summary)
		}
		pterm.Success.Printfln("Synced %d unfinished executions, %d changed", summary.SyncedCount, summary.UpdatedCount)
		return nil
	})
}

func runTaskCleanup(cmd *cobra.Command, args []string) error {
	opts := reconcile.CleanupOptions{
		RetentionDays: optionalInt(cmd, "retention-days"),
		OnlyCompleted: optionalBool(cmd, "only-completed"),
		BatchSize:     optionalInt(cmd, "batch-size"),
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		var res reconcile.CleanupResult
		var err error
		if run, _ := cmd.Flags().GetBool("run"); run {
			res, err = a.Jobs.RunCleanup(ctx, uuid.NewString(), opts)
		} else {
			res, err = a.Jobs.Cleanup(ctx, opts)
		}
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(res)
		}
		if res.Skipped {
			pterm.Warning.Printfln("Cleanup skipped: %s", res.Reason)
			return nil
		}
		pterm.Success.Printfln("Deleted %d executions created before %s", res.DeletedCount, res.Cutoff)
		return nil
	})
}

func runTaskMarkTimeout(cmd *cobra.Command, args []string) error {
	opts := reconcile.TimeoutOptions{TimeoutMinutes: optionalInt(cmd, "timeout-minutes")}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		var res reconcile.TimeoutResult
		var err error
		if run, _ := cmd.Flags().GetBool("run"); run {
			res, err = a.Jobs.RunMarkTimeout(ctx, uuid.NewString(), opts)
		} else {
			res, err = a.Jobs.MarkTimedOut(ctx, opts)
		}
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(res)
		}
		if res.Skipped {
			pterm.Warning.Printfln("Timeout marking skipped: %s", res.Reason)
			return nil
		}
		pterm.Success.Printfln("Marked %d executions as timed out (started before %s)", res.UpdatedCount, res.Cutoff)
		return nil
	})
}

func sortedKeys(m map[string]*task.StatusCounts) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
