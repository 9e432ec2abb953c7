package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/qntx-task/am"
	"github.com/teranos/qntx-task/display"
	"github.com/teranos/qntx-task/internal/app"
	"github.com/teranos/qntx-task/logger"
	"github.com/teranos/qntx-task/pulse/schedule"
	"github.com/teranos/qntx-task/pulse/taskconf"
	"github.com/teranos/qntx-task/sym"
)

// PulseCmd represents the pulse command - the periodic maintenance scheduler
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the periodic maintenance scheduler",
	Long: sym.Pulse + ` Pulse daemon - periodic task maintenance.

The Pulse daemon fires two jobs on their resolved schedules:
- cleanup of execution records past the retention period
- timeout marking of executions stuck in STARTED

Each firing is itself tracked as a task execution, holds a lock so only one
instance runs at a time, and is retried with backoff when it fails.

Example:
  qntx-task pulse start       # Start daemon in foreground
  qntx-task pulse jobs        # Show the jobs and their next run times
  qntx-task pulse run cleanup_old_task_executions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the Pulse daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Long: `Start the scheduler in foreground mode.
Runs until interrupted (Ctrl+C); running jobs are cancelled and recorded before exit.`,
	RunE: runPulseStart,
}

var pulseJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show the periodic jobs and their next run times",
	RunE:  runPulseJobs,
}

var pulseRunCmd = &cobra.Command{
	Use:   "run <task-name>",
	Short: "Fire one periodic job now, with retries",
	Args:  cobra.ExactArgs(1),
	RunE:  runPulseRun,
}

func init() {
	pulseJobsCmd.Flags().Int("count", 3, "Upcoming run times to show per job")

	PulseCmd.AddCommand(PulseStartCmd, pulseJobsCmd, pulseRunCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		schedCfg, err := schedule.ConfigFrom(a.Config.Pulse)
		if err != nil {
			printHints(err)
			return err
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		sched := schedule.NewWithContext(ctx, a.Resolver, a.Tracker, schedule.ReconcileHandlers(a.Jobs), schedCfg)
		if err := sched.Start(); err != nil {
			return err
		}

		if a.Config.Pulse.WatchConfig {
			if path := am.UserConfigPath(); path != "" {
				watcher, err := am.NewConfigWatcher(path)
				if err != nil {
					logger.Warnw("Config watching disabled", "path", path, "error", err)
				} else {
					watcher.OnReload(func(cfg *am.Config) error {
						return sched.Reload(cfg.Task)
					})
					watcher.Start()
					am.SetGlobalWatcher(watcher)
					defer watcher.Stop()
				}
			}
		}

		fmt.Printf("%s Pulse daemon started\n", sym.Pulse)
		fmt.Printf("  Timezone: %s\n", schedCfg.Location)
		if schedCfg.RefreshInterval > 0 {
			fmt.Printf("  Refresh interval: %v\n", schedCfg.RefreshInterval)
		}
		for _, e := range sched.Entries() {
			fmt.Printf("  %s: %s\n", e.TaskName, e.Schedule)
		}
		fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
		case <-ctx.Done():
		}

		fmt.Printf("\n%s Shutting down...\n", sym.Pulse)
		sched.Stop()
		fmt.Printf("%s Pulse daemon stopped\n", sym.Pulse)
		return nil
	})
}

type jobView struct {
	ID       string      `json:"id"`
	Task     string      `json:"task"`
	Schedule string      `json:"schedule"`
	Enabled  bool        `json:"enabled"`
	Next     []time.Time `json:"next_run_at,omitempty"`
}

func runPulseJobs(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	schedCfg, err := schedule.ConfigFrom(cfg.Pulse)
	if err != nil {
		return err
	}

	resolver, closeApp, err := jobsResolver(ctx, cfg, logger.Logger)
	if err != nil {
		pterm.Warning.Printfln("Database unavailable, showing configured schedules without runtime overrides: %v", err)
	}
	defer closeApp()

	views, err := jobViews(ctx, resolver, time.Now().In(schedCfg.Location), count)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(views)
	}
	rows := pterm.TableData{{"JOB", "TASK", "SCHEDULE", "NEXT"}}
	for _, v := range views {
		next := "disabled"
		if v.Enabled && len(v.Next) > 0 {
			next = formatTime(&v.Next[0])
		}
		rows = append(rows, []string{v.ID, v.Task, v.Schedule, next})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

// jobsResolver returns the app's resolver. When the app cannot be opened it
// returns the open error with a resolver over the static settings alone, so
// schedules can be inspected before the database is reachable.
func jobsResolver(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (*taskconf.Resolver, func(), error) {
	a, err := app.Open(ctx, cfg, os.Stderr, log)
	if err != nil {
		return taskconf.NewResolver(cfg.Task, nil), func() {}, err
	}
	return a.Resolver, func() { a.Close() }, nil
}

// jobViews lists the periodic jobs with their next count run times after now.
func jobViews(ctx context.Context, resolver *taskconf.Resolver, now time.Time, count int) ([]jobView, error) {
	var views []jobView
	for _, job := range resolver.PeriodicJobs(ctx) {
		v := jobView{ID: job.ID, Task: job.TaskName, Schedule: job.Schedule.String(), Enabled: job.Enabled}
		if job.Enabled {
			var err error
			if v.Next, err = job.Schedule.Next(now, count); err != nil {
				return nil, err
			}
		}
		views = append(views, v)
	}
	return views, nil
}

func runPulseRun(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		sched := schedule.NewWithContext(ctx, a.Resolver, a.Tracker, schedule.ReconcileHandlers(a.Jobs), schedule.Config{})
		id, err := sched.Run(ctx, args[0])
		if id == "" {
			return err
		}

		e, gerr := a.Tracker.Get(ctx, id, false)
		if gerr != nil {
			return gerr
		}
		if display.ShouldOutputJSON(cmd) && e != nil {
			if perr := display.OutputJSON(e); perr != nil {
				return perr
			}
		} else if e != nil {
			printExecution(e)
		}
		return err
	})
}
