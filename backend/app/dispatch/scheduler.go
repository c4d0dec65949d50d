package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/store"
)

// Scheduler runs the background loops of the engine: dispatch workers on
// global_task_queue, promotion of due scheduled tasks, offline detection and
// reaping of instructions that expired undelivered.
type Scheduler struct {
	e *Engine

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(e *Engine) *Scheduler {
	return &Scheduler{e: e}
}

// Start launches the loops and returns. They stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	cfg := s.e.cfg

	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.worker(ctx, id)
		}(i)
	}
	s.every(ctx, "promote", cfg.PromoteInterval, s.e.PromoteDue)
	s.every(ctx, "offline", cfg.OfflineCheckInterval, s.e.CheckOffline)
	s.every(ctx, "reap", cfg.ReapInterval, s.e.Reap)

	s.e.log.Info().Int("workers", cfg.Workers).Dur("promote", cfg.PromoteInterval).
		Dur("offline", cfg.OfflineCheckInterval).Dur("reap", cfg.ReapInterval).Msg("scheduler started")
}

// Stop cancels the loops and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.e.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) (int, error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			n, err := fn(ctx)
			if err != nil && ctx.Err() == nil {
				s.e.log.Error().Err(err).Str("loop", name).Msg("background pass failed")
				continue
			}
			if n > 0 {
				s.e.log.Debug().Str("loop", name).Int("count", n).Msg("background pass")
			}
		}
	}()
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	for ctx.Err() == nil {
		ok, err := s.e.DispatchNext(ctx)
		if err != nil && ctx.Err() == nil {
			s.e.log.Error().Err(err).Int("worker", id).Msg("dispatch worker")
		}
		if ok && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.e.cfg.WorkerIdle):
		}
	}
}

// DispatchNext pops one task id from global_task_queue and dispatches it.
// It reports whether a task was taken. A task that failed on an
// infrastructure error before it started goes back on the queue.
func (e *Engine) DispatchNext(ctx context.Context) (bool, error) {
	ids, err := e.store.PopN(ctx, store.KeyGlobalTaskQueue, 1)
	if err != nil {
		return false, fmt.Errorf("pop task queue: %w", err)
	}
	if len(ids) == 0 {
		return false, nil
	}
	id, err := strconv.ParseUint(ids[0], 10, 64)
	if err != nil {
		e.log.Error().Str("value", ids[0]).Msg("dropping malformed task id")
		return true, nil
	}
	task, err := e.tasks.FindByID(ctx, uint(id))
	if errors.Is(err, ErrNotFound) {
		e.log.Warn().Uint64("task", id).Msg("dropping queued id of deleted task")
		return true, nil
	}
	if err != nil {
		e.resubmit(ctx, &models.Task{ID: uint(id)})
		return true, fmt.Errorf("load task %d: %w", id, err)
	}
	err = e.Dispatch(ctx, task)
	switch {
	case err == nil:
	case errors.Is(err, ErrTaskTerminal), errors.Is(err, ErrTaskPaused):
		e.log.Debug().Uint("task", task.ID).Err(err).Msg("skipping queued task")
	case errors.Is(err, ErrNoTargets), errors.Is(err, ErrInvalidTask):
		e.log.Warn().Uint("task", task.ID).Err(err).Msg("queued task failed")
	default:
		if statusIn(task.Status, startable) {
			e.resubmit(ctx, task)
		}
		return true, fmt.Errorf("dispatch task %d: %w", id, err)
	}
	return true, nil
}

// resubmit pushes a task id back after a transient failure. If that fails
// too, the stale PENDING sweep in PromoteDue picks the task up.
func (e *Engine) resubmit(ctx context.Context, task *models.Task) {
	id := strconv.FormatUint(uint64(task.ID), 10)
	err := e.store.PushRanked(context.WithoutCancel(ctx), store.KeyGlobalTaskQueue, int64(task.Priority), id)
	if err != nil {
		e.log.Error().Err(err).Uint("task", task.ID).Msg("task not requeued, left for the pending sweep")
		return
	}
	e.log.Warn().Uint("task", task.ID).Msg("task requeued after dispatch failure")
}

// PromoteDue dispatches scheduled tasks whose next run has arrived, and
// PENDING tasks that waited longer than StalePending, e.g. because their
// queue entry was lost to a store outage.
func (e *Engine) PromoteDue(ctx context.Context) (int, error) {
	now := e.now()
	due, err := e.tasks.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}
	stale, err := e.tasks.ListStalePending(ctx, now.Add(-e.cfg.StalePending))
	if err != nil {
		return 0, fmt.Errorf("list stale pending tasks: %w", err)
	}
	due = append(due, stale...)
	var errs []error
	n := 0
	for i := range due {
		if err := e.Dispatch(ctx, &due[i]); err != nil {
			errs = append(errs, fmt.Errorf("task %d: %w", due[i].ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// CheckOffline cancels instructions held by devices whose online flag has
// lapsed. A device holding a delivered instruction was online when it
// polled, so a missing flag is an online to offline transition.
func (e *Engine) CheckOffline(ctx context.Context) (int, error) {
	active, err := e.execs.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active executions: %w", err)
	}
	byDevice := make(map[string][]models.ScriptExecutionRecord)
	for _, r := range active {
		if r.DeliveredAt == nil {
			continue
		}
		byDevice[r.DeviceCode] = append(byDevice[r.DeviceCode], r)
	}
	cancelled := 0
	for code, recs := range byDevice {
		online, err := e.Liveness.IsOnline(ctx, code)
		if err != nil {
			return cancelled, err
		}
		if online {
			continue
		}
		e.metrics.RecordOffline()
		e.notify(ctx, Event{Type: EventDeviceOffline, DeviceCode: code, Message: "online flag expired"})
		for i := range recs {
			ok, err := e.terminate(ctx, &recs[i], models.ExecCancelled, "device offline")
			if err != nil {
				e.log.Error().Err(err).Str("instruction", recs[i].InstructionID).Msg("cancel offline instruction")
				continue
			}
			if ok {
				cancelled++
			}
		}
		e.log.Warn().Str("device", code).Int("instructions", len(recs)).Msg("device went offline")
	}
	return cancelled, nil
}

// Reap times out instructions that expired without delivery, and
// reconciles delivered records with their status key.
func (e *Engine) Reap(ctx context.Context) (int, error) {
	now := e.now()
	expired, err := e.execs.ListUndeliveredExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired executions: %w", err)
	}
	n := 0
	for i := range expired {
		ok, err := e.terminate(ctx, &expired[i], models.ExecTimeout, "expired before delivery")
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}

	active, err := e.execs.ListActive(ctx)
	if err != nil {
		return n, fmt.Errorf("list active executions: %w", err)
	}
	for i := range active {
		rec := &active[i]
		if rec.DeliveredAt == nil {
			continue
		}
		v, err := e.store.Get(ctx, store.InstructionStatusKey(rec.InstructionID))
		switch {
		case errors.Is(err, store.ErrNil):
			ok, err := e.terminate(ctx, rec, models.ExecTimeout, "no result before status expired")
			if err != nil {
				return n, err
			}
			if ok {
				n++
			}
		case err != nil:
			return n, fmt.Errorf("read instruction status: %w", err)
		default:
			if e.reconcile(ctx, rec, v) {
				n++
			}
		}
	}
	return n, nil
}

// reconcile copies a terminal status key onto a record whose save was lost.
func (e *Engine) reconcile(ctx context.Context, rec *models.ScriptExecutionRecord, wire string) bool {
	st, ok := executionStatus(wire)
	if !ok || !st.IsTerminal() {
		return false
	}
	now := e.now()
	rec.Status = st
	rec.EndTime = &now
	if err := e.execs.Save(ctx, rec); err != nil {
		e.log.Error().Err(err).Str("instruction", rec.InstructionID).Msg("reconcile execution record")
		return false
	}
	e.log.Warn().Str("instruction", rec.InstructionID).Str("status", wire).Msg("execution record reconciled")
	e.afterTerminal(ctx, rec)
	return true
}

func statusIn(s models.TaskStatus, set []models.TaskStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
