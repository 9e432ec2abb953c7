package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/logger"
	"github.com/teranos/qntx-task/pulse/task"
	"github.com/teranos/qntx-task/pulse/taskconf"
	"github.com/teranos/qntx-task/pulse/tasklog"
)

// Metadata keys written on the job's own execution record.
const (
	MetaLogSummary = "log_summary"
	MetaLogIssues  = "log_warnings"
)

// tracked runs body as execution executionID of taskName: registered STARTED
// with opts as metadata, then finished as SUCCESS with body's result or
// FAILURE with its error and stack. body's logs are collected and attached.
func (j *Jobs) tracked(ctx context.Context, executionID, taskName string, opts any, body func(context.Context, *zap.SugaredLogger) (any, error)) error {
	ctx = logger.WithExecutionID(logger.WithJob(ctx, taskName), executionID)
	collector := tasklog.NewCollector(tasklog.DefaultMaxRecords)
	log := logger.FromContext(ctx, tasklog.Tee(j.logger, collector))

	j.enter(executionID)
	defer j.leave(executionID)

	meta, err := optionsMetadata(opts)
	if err != nil {
		return err
	}
	e, err := j.tracker.Register(ctx, task.RegisterParams{
		ExecutionID:   executionID,
		TaskName:      taskName,
		Module:        taskconf.Module,
		Metadata:      meta,
		InitialStatus: task.StatusStarted,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to track %s", taskName)
	}
	if e.Status != task.StatusStarted {
		// retry of an earlier attempt under the same id
		if _, err := j.tracker.UpdateStatus(ctx, executionID, task.UpdateParams{Status: task.StatusStarted}); err != nil {
			return errors.Wrapf(err, "failed to restart %s", taskName)
		}
	}

	result, runErr := body(ctx, log)
	if runErr != nil {
		log.Errorw("Periodic job failed", logger.FieldError, runErr)
	}

	final := task.UpdateParams{Metadata: logMetadata(collector)}
	if runErr != nil {
		msg := runErr.Error()
		trace := fmt.Sprintf("%+v", runErr)
		final.Status = task.StatusFailure
		final.Error = &msg
		final.Traceback = &trace
	} else {
		final.Status = task.StatusSuccess
		final.Result = result
	}

	// the run's context may already be cancelled; the outcome must still land
	if _, err := j.tracker.UpdateStatus(context.WithoutCancel(ctx), executionID, final); err != nil {
		if runErr != nil {
			return errors.CombineErrors(runErr, err)
		}
		return errors.Wrapf(err, "failed to record %s result", taskName)
	}
	return runErr
}

func optionsMetadata(opts any) (map[string]any, error) {
	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode job options")
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Wrap(err, "failed to decode job options")
	}
	return meta, nil
}

func logMetadata(c *tasklog.Collector) map[string]any {
	meta := map[string]any{MetaLogSummary: c.Summary()}
	if issues := c.WarningsAndErrors(); len(issues) > 0 {
		meta[MetaLogIssues] = issues
	}
	return meta
}
