package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"autojs-hub/backend/app/models"
)

var nonTerminalTask = []models.TaskStatus{
	models.TaskPending, models.TaskStatusScheduled, models.TaskRunning, models.TaskPaused,
}

func (e *Engine) taskChanged(ctx context.Context, taskID uint, to models.TaskStatus, msg string) {
	e.metrics.RecordTaskTransition(string(to))
	e.log.Info().Uint("task", taskID).Str("status", string(to)).Str("detail", msg).Msg("task status changed")
	e.notify(ctx, Event{
		Type:    EventTaskStatusChanged,
		TaskID:  taskID,
		Status:  string(to),
		Message: msg,
	})
}

func (e *Engine) failTask(ctx context.Context, taskID uint, from []models.TaskStatus, reason string) {
	ok, err := e.tasks.CompareAndSetStatus(ctx, taskID, from, models.TaskFailed, reason)
	if err != nil {
		e.log.Error().Err(err).Uint("task", taskID).Msg("mark task failed")
		return
	}
	if ok {
		e.taskChanged(ctx, taskID, models.TaskFailed, reason)
	}
}

// latestAttempts keeps, per correlation id, the record with the highest attempt.
func latestAttempts(recs []models.ScriptExecutionRecord) []models.ScriptExecutionRecord {
	latest := make(map[string]models.ScriptExecutionRecord, len(recs))
	for _, r := range recs {
		key := r.CorrelationID
		if key == "" {
			key = r.InstructionID
		}
		if cur, ok := latest[key]; !ok || r.Attempt > cur.Attempt {
			latest[key] = r
		}
	}
	out := make([]models.ScriptExecutionRecord, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceCode < out[j].DeviceCode })
	return out
}

// Outcome aggregates the final attempts of one occurrence. done is false
// while any of them is still running.
func Outcome(recs []models.ScriptExecutionRecord) (status models.TaskStatus, done bool) {
	final := latestAttempts(recs)
	if len(final) == 0 {
		return "", false
	}
	succeeded, failed := 0, 0
	for _, r := range final {
		switch {
		case !r.Status.IsTerminal():
			return "", false
		case r.Status == models.ExecSuccess:
			succeeded++
		case r.Status.IsFailure():
			failed++
		}
	}
	switch {
	case failed == 0:
		return models.TaskCompleted, true
	case succeeded == 0:
		return models.TaskFailed, true
	default:
		return models.TaskPartiallyCompleted, true
	}
}

// Rollup finishes the current occurrence of a running task once all of its
// instructions are terminal. Recurring tasks go back to SCHEDULED.
func (e *Engine) Rollup(ctx context.Context, taskID uint) error {
	task, err := e.tasks.FindByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if task.Status != models.TaskRunning {
		return nil
	}
	recs, err := e.execs.ListByTaskOccurrence(ctx, task.ID, task.Occurrence)
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}
	outcome, done := Outcome(recs)
	if !done {
		return nil
	}
	summary := summarize(latestAttempts(recs))
	running := []models.TaskStatus{models.TaskRunning}

	if task.TaskType == models.TaskRecurring && task.RecurrenceInterval > 0 {
		next := e.now().Add(task.Interval())
		ok, err := e.tasks.ScheduleNext(ctx, task.ID, running, next)
		if err != nil {
			return fmt.Errorf("schedule next occurrence: %w", err)
		}
		if ok {
			e.taskChanged(ctx, task.ID, models.TaskStatusScheduled,
				fmt.Sprintf("occurrence %d %s, next run %s", task.Occurrence, outcome, next.Format(time.RFC3339)))
		}
		return nil
	}

	lastError := ""
	if outcome != models.TaskCompleted {
		lastError = summary
	}
	ok, err := e.tasks.CompareAndSetStatus(ctx, task.ID, running, outcome, lastError)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	if ok {
		e.taskChanged(ctx, task.ID, outcome, summary)
	}
	return nil
}

func summarize(recs []models.ScriptExecutionRecord) string {
	counts := make(map[models.ExecutionStatus]int)
	for _, r := range recs {
		counts[r.Status]++
	}
	parts := make([]string, 0, len(counts))
	for _, s := range []models.ExecutionStatus{models.ExecSuccess, models.ExecFailed, models.ExecTimeout, models.ExecCancelled} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(string(s)), n))
		}
	}
	return strings.Join(parts, " ")
}

// Cancel marks the task CANCELLED at once and asks every device still
// holding one of its instructions to stop. Device acknowledgement is not awaited.
func (e *Engine) Cancel(ctx context.Context, taskID uint) error {
	task, err := e.tasks.FindByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return ErrTaskTerminal
	}
	ok, err := e.tasks.CompareAndSetStatus(ctx, task.ID, nonTerminalTask, models.TaskCancelled, "cancelled")
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if !ok {
		return ErrTaskTerminal
	}
	e.taskChanged(ctx, task.ID, models.TaskCancelled, "cancelled by operator")

	recs, err := e.execs.ListByTaskOccurrence(ctx, task.ID, task.Occurrence)
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}
	stops := make(map[string][]string)
	for i := range recs {
		rec := &recs[i]
		if rec.Status.IsTerminal() {
			continue
		}
		applied, err := e.terminate(ctx, rec, models.ExecCancelled, "task cancelled")
		if err != nil {
			e.log.Error().Err(err).Str("instruction", rec.InstructionID).Msg("cancel instruction")
			continue
		}
		if applied {
			stops[rec.DeviceCode] = append(stops[rec.DeviceCode], rec.InstructionID)
		}
	}
	for code, ids := range stops {
		data := map[string]any{"taskId": task.ID, "instructionIds": ids}
		inst := NewInstruction(InstStopScript, data, task.Priority, DefaultInstructionTimeout, e.now())
		inst.TaskID = task.ID
		if err := e.Queue.Enqueue(ctx, code, inst); err != nil {
			e.log.Error().Err(err).Str("device", code).Uint("task", task.ID).Msg("queue stop_script")
		}
	}
	return nil
}

// Pause stops promotion and retries of a task. Instructions already queued
// or running are left alone.
func (e *Engine) Pause(ctx context.Context, taskID uint) error {
	from := []models.TaskStatus{models.TaskPending, models.TaskStatusScheduled, models.TaskRunning}
	ok, err := e.tasks.CompareAndSetStatus(ctx, taskID, from, models.TaskPaused, "")
	if err != nil {
		return fmt.Errorf("pause task: %w", err)
	}
	if ok {
		e.taskChanged(ctx, taskID, models.TaskPaused, "paused by operator")
		return nil
	}
	task, err := e.tasks.FindByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == models.TaskPaused {
		return nil
	}
	return ErrTaskTerminal
}

// Resume returns a paused task to where it left off: SCHEDULED when a run is
// pending, PENDING when it never ran, RUNNING otherwise.
func (e *Engine) Resume(ctx context.Context, taskID uint) error {
	task, err := e.tasks.FindByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return ErrTaskTerminal
	}
	if task.Status != models.TaskPaused {
		return ErrTaskNotPaused
	}
	paused := []models.TaskStatus{models.TaskPaused}
	switch {
	case task.NextRunAt != nil:
		ok, err := e.tasks.ScheduleNext(ctx, task.ID, paused, *task.NextRunAt)
		if err != nil {
			return fmt.Errorf("resume task: %w", err)
		}
		if ok {
			e.taskChanged(ctx, task.ID, models.TaskStatusScheduled, "resumed")
		}
		return nil
	case task.Occurrence == 0:
		ok, err := e.tasks.CompareAndSetStatus(ctx, task.ID, paused, models.TaskPending, "")
		if err != nil {
			return fmt.Errorf("resume task: %w", err)
		}
		if !ok {
			return nil
		}
		e.taskChanged(ctx, task.ID, models.TaskPending, "resumed")
		task.Status = models.TaskPending
		return e.Submit(ctx, task)
	default:
		ok, err := e.tasks.CompareAndSetStatus(ctx, task.ID, paused, models.TaskRunning, "")
		if err != nil {
			return fmt.Errorf("resume task: %w", err)
		}
		if !ok {
			return nil
		}
		e.taskChanged(ctx, task.ID, models.TaskRunning, "resumed")
		// instructions may all have finished while paused
		return e.Rollup(ctx, task.ID)
	}
}
