package dispatch

import (
	"context"
	"fmt"

	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/store"
)

func retryable(task *models.Task, status models.ExecutionStatus) bool {
	switch status {
	case models.ExecFailed, models.ExecTimeout:
		return true
	case models.ExecCancelled:
		return task.RetryOnCancel
	case models.ExecPending, models.ExecRunning, models.ExecSuccess:
		return false
	default:
		return false
	}
}

// retry re-dispatches the device of a failed record when the task still has
// retries left. instruction_retry:<id> makes sure one failure is counted once
// even if it is observed by several paths.
func (e *Engine) retry(ctx context.Context, rec *models.ScriptExecutionRecord) (bool, error) {
	task, err := e.tasks.FindByID(ctx, rec.TaskID)
	if err != nil {
		return false, fmt.Errorf("load task: %w", err)
	}
	if !retryable(task, rec.Status) {
		return false, nil
	}
	if task.Status != models.TaskRunning || rec.Occurrence != task.Occurrence {
		e.metrics.RecordRetry("skipped")
		return false, nil
	}
	n, err := e.store.IncrWithTTL(ctx, store.InstructionRetryKey(rec.InstructionID), store.TTLInstructionRetry)
	if err != nil {
		return false, fmt.Errorf("count retry: %w", err)
	}
	if n != 1 {
		e.metrics.RecordRetry("duplicate")
		return false, nil
	}
	ok, err := e.tasks.IncrementRetry(ctx, task.ID)
	if err != nil {
		return false, fmt.Errorf("increment retry count: %w", err)
	}
	if !ok {
		e.metrics.RecordRetry("exhausted")
		e.log.Info().Uint("task", task.ID).Str("device", rec.DeviceCode).Int("max_retries", task.MaxRetries).
			Msg("retries exhausted")
		return false, nil
	}
	if err := e.DispatchDevice(ctx, task, rec.DeviceCode, rec.CorrelationID, rec.Attempt+1); err != nil {
		e.metrics.RecordRetry("error")
		return false, err
	}
	e.metrics.RecordRetry("scheduled")
	e.log.Info().Uint("task", task.ID).Str("device", rec.DeviceCode).Int("attempt", rec.Attempt+1).
		Str("previous", rec.InstructionID).Msg("instruction retried")
	return true, nil
}
