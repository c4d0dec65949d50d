package dispatch

import (
	"context"
	"time"

	"autojs-hub/backend/app/models"
)

// DeviceRegistry resolves devices. Lookups of a missing device return ErrNotFound.
type DeviceRegistry interface {
	FindByCode(ctx context.Context, code string) (*models.Device, error)
	FindByCodes(ctx context.Context, codes []string) ([]models.Device, error)
	ListAll(ctx context.Context) ([]models.Device, error)
	ListByGroup(ctx context.Context, groupID string) ([]models.Device, error)
	Touch(ctx context.Context, code, autoJsVersion string, seenAt time.Time) error
}

type ScriptRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Script, error)
}

// TaskStore persists task state. Every status change is conditional on the
// current status so concurrent callers cannot resurrect a finished task.
type TaskStore interface {
	FindByID(ctx context.Context, id uint) (*models.Task, error)
	// CompareAndSetStatus moves the task to `to` only while its status is one
	// of `from`. It reports whether the row changed.
	CompareAndSetStatus(ctx context.Context, id uint, from []models.TaskStatus, to models.TaskStatus, lastError string) (bool, error)
	// StartOccurrence moves the task to RUNNING, bumps its occurrence, clears
	// next_run_at and resets retry_count. It returns the updated task.
	StartOccurrence(ctx context.Context, id uint, from []models.TaskStatus) (*models.Task, bool, error)
	// ScheduleNext moves the task to SCHEDULED with the given next run time.
	ScheduleNext(ctx context.Context, id uint, from []models.TaskStatus, next time.Time) (bool, error)
	// IncrementRetry bumps retry_count while it is below max_retries.
	IncrementRetry(ctx context.Context, id uint) (bool, error)
	// ListDue returns SCHEDULED tasks whose next run is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]models.Task, error)
	// ListStalePending returns PENDING tasks last updated at or before before.
	ListStalePending(ctx context.Context, before time.Time) ([]models.Task, error)
}

type ExecutionStore interface {
	Create(ctx context.Context, rec *models.ScriptExecutionRecord) error
	Save(ctx context.Context, rec *models.ScriptExecutionRecord) error
	FindByInstructionID(ctx context.Context, instructionID string) (*models.ScriptExecutionRecord, error)
	ListByTaskOccurrence(ctx context.Context, taskID uint, occurrence int) ([]models.ScriptExecutionRecord, error)
	// ListActive returns delivered records that have not reached a terminal status.
	ListActive(ctx context.Context) ([]models.ScriptExecutionRecord, error)
	// ListUndeliveredExpired returns PENDING records never delivered whose expiry passed.
	ListUndeliveredExpired(ctx context.Context, now time.Time) ([]models.ScriptExecutionRecord, error)
}
