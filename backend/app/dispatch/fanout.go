package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/store"
)

var startable = []models.TaskStatus{models.TaskPending, models.TaskStatusScheduled}

// dueAt is the time the next occurrence should fire, nil meaning now.
func dueAt(t *models.Task) *time.Time {
	if t.NextRunAt != nil {
		return t.NextRunAt
	}
	if t.Occurrence == 0 && t.TaskType != models.TaskImmediate {
		return t.ScheduledTime
	}
	return nil
}

// Dispatch fans a task out to its target devices. A task not yet due moves
// to SCHEDULED and emits nothing. Every device is attempted even when some
// fail; the joined error lists the failures.
func (e *Engine) Dispatch(ctx context.Context, task *models.Task) error {
	if task.Status.IsTerminal() {
		return ErrTaskTerminal
	}
	if task.Status == models.TaskPaused {
		return ErrTaskPaused
	}
	now := e.now()
	if due := dueAt(task); due != nil && due.After(now) {
		if task.Status == models.TaskStatusScheduled {
			return nil
		}
		ok, err := e.tasks.ScheduleNext(ctx, task.ID, []models.TaskStatus{models.TaskPending}, *due)
		if err != nil {
			return fmt.Errorf("schedule task: %w", err)
		}
		if ok {
			e.taskChanged(ctx, task.ID, models.TaskStatusScheduled, "next run "+due.Format(time.RFC3339))
		}
		return nil
	}

	script, err := e.scripts.FindByID(ctx, task.ScriptID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.failTask(ctx, task.ID, startable, "script not found")
			return fmt.Errorf("%w: script %d not found", ErrInvalidTask, task.ScriptID)
		}
		return fmt.Errorf("load script: %w", err)
	}
	devices, err := e.resolveTargets(ctx, task)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		e.failTask(ctx, task.ID, startable, ErrNoTargets.Error())
		return ErrNoTargets
	}

	started, ok, err := e.tasks.StartOccurrence(ctx, task.ID, startable)
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	if !ok {
		// another worker claimed this occurrence
		e.log.Debug().Uint("task", task.ID).Msg("task already started")
		return nil
	}
	*task = *started
	e.taskChanged(ctx, task.ID, models.TaskRunning, "occurrence "+strconv.Itoa(task.Occurrence))

	var errs []error
	queued := 0
	for _, code := range devices {
		if err := e.enqueueTask(ctx, task, script, code, uuid.NewString(), 1); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", code, err))
			continue
		}
		queued++
	}
	e.log.Info().Uint("task", task.ID).Int("occurrence", task.Occurrence).Int("devices", len(devices)).
		Int("queued", queued).Msg("task dispatched")
	if queued == 0 {
		e.failTask(ctx, task.ID, []models.TaskStatus{models.TaskRunning}, "no instruction could be queued")
	}
	return errors.Join(errs...)
}

// DispatchDevice queues one execution of task on a single device, reusing
// correlationID so the attempt supersedes earlier ones in the rollup.
func (e *Engine) DispatchDevice(ctx context.Context, task *models.Task, deviceCode, correlationID string, attempt int) error {
	script, err := e.scripts.FindByID(ctx, task.ScriptID)
	if err != nil {
		return fmt.Errorf("load script: %w", err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	if attempt < 1 {
		attempt = 1
	}
	return e.enqueueTask(ctx, task, script, deviceCode, correlationID, attempt)
}

func (e *Engine) enqueueTask(ctx context.Context, task *models.Task, script *models.Script, code, correlationID string, attempt int) error {
	_, release := e.lockDevice(ctx, code)
	defer release()

	data := map[string]any{
		"scriptId":   script.ID,
		"scriptName": script.Name,
		"script":     script.Content,
		"taskId":     task.ID,
		"parameters": task.Parameters,
	}
	inst := NewInstruction(InstExecuteScript, data, task.Priority, script.TimeoutSeconds(), e.now())
	inst.TaskID = task.ID
	inst.ScriptID = script.ID
	inst.CorrelationID = correlationID

	rec := &models.ScriptExecutionRecord{
		InstructionID: inst.InstructionID,
		TaskID:        task.ID,
		ScriptID:      script.ID,
		DeviceCode:    code,
		CorrelationID: correlationID,
		Occurrence:    task.Occurrence,
		Attempt:       attempt,
		Status:        models.ExecPending,
		ExpiresAt:     inst.ExpiresAt(),
	}
	// The record exists before the instruction is visible, so a fast device
	// can always find it. If the enqueue fails the reaper times it out.
	if err := e.execs.Create(ctx, rec); err != nil {
		return fmt.Errorf("create execution record: %w", err)
	}
	return e.Queue.Enqueue(ctx, code, inst)
}

// resolveTargets returns the device codes a task addresses, deduplicated.
func (e *Engine) resolveTargets(ctx context.Context, task *models.Task) ([]string, error) {
	var (
		devs []models.Device
		err  error
	)
	switch task.TargetType {
	case models.TargetAll:
		devs, err = e.devices.ListAll(ctx)
	case models.TargetGroup:
		devs, err = e.devices.ListByGroup(ctx, task.TargetGroup)
	case models.TargetSpecific:
		devs, err = e.devices.FindByCodes(ctx, task.TargetDeviceIDs)
	default:
		return nil, fmt.Errorf("%w: unknown target type %q", ErrInvalidTask, task.TargetType)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve targets: %w", err)
	}
	seen := make(map[string]struct{}, len(devs))
	codes := make([]string, 0, len(devs))
	for _, d := range devs {
		if _, dup := seen[d.Code]; dup {
			continue
		}
		seen[d.Code] = struct{}{}
		codes = append(codes, d.Code)
	}
	if task.TargetType == models.TargetSpecific && len(codes) < len(task.TargetDeviceIDs) {
		e.log.Warn().Uint("task", task.ID).Int("requested", len(task.TargetDeviceIDs)).Int("found", len(codes)).
			Msg("some target devices are not registered")
	}
	return codes, nil
}

// Submit hands a task to the dispatch workers through global_task_queue.
// Higher priority tasks are dispatched first.
func (e *Engine) Submit(ctx context.Context, task *models.Task) error {
	id := strconv.FormatUint(uint64(task.ID), 10)
	if err := e.store.PushRanked(ctx, store.KeyGlobalTaskQueue, int64(task.Priority), id); err != nil {
		return fmt.Errorf("submit task: %w", err)
	}
	if task.TargetType == models.TargetGroup && task.TargetGroup != "" {
		if err := e.store.RPushCapped(ctx, store.GroupTaskQueueKey(task.TargetGroup), id, e.cfg.GroupHistory); err != nil {
			e.log.Warn().Err(err).Uint("task", task.ID).Str("group", task.TargetGroup).Msg("record group task")
		}
	}
	return nil
}

// SendInstruction queues an ad-hoc instruction that belongs to no task.
func (e *Engine) SendInstruction(ctx context.Context, deviceCode string, typ InstructionType, data map[string]any, priority, timeout int) (DeviceInstruction, error) {
	if _, err := e.devices.FindByCode(ctx, deviceCode); err != nil {
		if errors.Is(err, ErrNotFound) {
			return DeviceInstruction{}, ErrUnknownDevice
		}
		return DeviceInstruction{}, fmt.Errorf("lookup device: %w", err)
	}
	if !typ.Valid() {
		return DeviceInstruction{}, fmt.Errorf("%w: unknown type %q", ErrInvalidInstruction, typ)
	}
	inst := NewInstruction(typ, data, priority, timeout, e.now())
	if err := e.Queue.Enqueue(ctx, deviceCode, inst); err != nil {
		return DeviceInstruction{}, err
	}
	return inst, nil
}
