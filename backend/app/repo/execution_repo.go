package repo

import (
	"context"
	"time"

	"autojs-hub/backend/app/models"

	"gorm.io/gorm"
)

// ExecutionRepository stores one row per instruction sent for a task.
type ExecutionRepository struct{ db *gorm.DB }

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) Create(ctx context.Context, rec *models.ScriptExecutionRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *ExecutionRepository) Save(ctx context.Context, rec *models.ScriptExecutionRecord) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *ExecutionRepository) FindByInstructionID(ctx context.Context, instructionID string) (*models.ScriptExecutionRecord, error) {
	var rec models.ScriptExecutionRecord
	if err := r.db.WithContext(ctx).Where("instruction_id = ?", instructionID).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *ExecutionRepository) ListByTaskOccurrence(ctx context.Context, taskID uint, occurrence int) ([]models.ScriptExecutionRecord, error) {
	var out []models.ScriptExecutionRecord
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND occurrence = ?", taskID, occurrence).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByTask returns every record of a task across occurrences and attempts.
func (r *ExecutionRepository) ListByTask(ctx context.Context, taskID uint) ([]models.ScriptExecutionRecord, error) {
	var out []models.ScriptExecutionRecord
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ExecutionRepository) ListActive(ctx context.Context) ([]models.ScriptExecutionRecord, error) {
	var out []models.ScriptExecutionRecord
	err := r.db.WithContext(ctx).
		Where("delivered_at IS NOT NULL AND status IN ?", []models.ExecutionStatus{models.ExecPending, models.ExecRunning}).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ExecutionRepository) ListUndeliveredExpired(ctx context.Context, now time.Time) ([]models.ScriptExecutionRecord, error) {
	var out []models.ScriptExecutionRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND delivered_at IS NULL AND expires_at < ?", models.ExecPending, now).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
