package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"autojs-hub/backend/app/dispatch"
	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/repo"
)

// TaskService creates tasks and forwards lifecycle commands to the dispatch engine.
type TaskService struct {
	tasks   *repo.TaskRepository
	execs   *repo.ExecutionRepository
	scripts *repo.ScriptRepository
	engine  *dispatch.Engine
	log     zerolog.Logger
}

func NewTaskService(tasks *repo.TaskRepository, execs *repo.ExecutionRepository, scripts *repo.ScriptRepository, engine *dispatch.Engine, log zerolog.Logger) *TaskService {
	return &TaskService{tasks: tasks, execs: execs, scripts: scripts, engine: engine, log: log}
}

// Create validates and stores a PENDING task, then hands it to the dispatch workers.
// A task that was stored but could not be queued is returned together with
// the error; the engine's stale PENDING sweep dispatches it later.
func (s *TaskService) Create(ctx context.Context, in models.Task) (*models.Task, error) {
	t := in
	t.ID = 0
	t.Status = models.TaskPending
	t.RetryCount = 0
	t.Occurrence = 0
	t.NextRunAt = nil
	t.LastError = ""
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.scripts.FindByID(ctx, t.ScriptID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: script %d does not exist", models.ErrInvalidTask, t.ScriptID)
		}
		return nil, err
	}
	if err := s.tasks.Create(ctx, &t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.engine.Notify(ctx, dispatch.Event{
		Type:    dispatch.EventTaskCreated,
		TaskID:  t.ID,
		Status:  string(t.Status),
		Message: t.Name,
	})
	if err := s.engine.Submit(ctx, &t); err != nil {
		s.log.Error().Err(err).Uint("task", t.ID).Msg("task stored but not queued, left for the pending sweep")
		return &t, err
	}
	return &t, nil
}

func (s *TaskService) List(ctx context.Context, status models.TaskStatus, limit int) ([]models.Task, error) {
	return s.tasks.List(ctx, status, limit)
}

// Get returns a task with every execution record it produced.
func (s *TaskService) Get(ctx context.Context, id uint) (*models.Task, []models.ScriptExecutionRecord, error) {
	t, err := s.tasks.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	recs, err := s.execs.ListByTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return t, recs, nil
}

func (s *TaskService) Cancel(ctx context.Context, id uint) error { return s.engine.Cancel(ctx, id) }
func (s *TaskService) Pause(ctx context.Context, id uint) error  { return s.engine.Pause(ctx, id) }
func (s *TaskService) Resume(ctx context.Context, id uint) error { return s.engine.Resume(ctx, id) }
