package repo

import (
	"context"
	"time"

	"autojs-hub/backend/app/models"

	"gorm.io/gorm"
)

// TaskRepository persists tasks. Status changes are conditional updates so
// that concurrent workers cannot overwrite each other's transitions.
type TaskRepository struct{ db *gorm.DB }

func NewTaskRepository(db *gorm.DB) *TaskRepository { return &TaskRepository{db: db} }

func (r *TaskRepository) Create(ctx context.Context, t *models.Task) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *TaskRepository) FindByID(ctx context.Context, id uint) (*models.Task, error) {
	var t models.Task
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// List returns the newest tasks first, optionally filtered by status.
func (r *TaskRepository) List(ctx context.Context, status models.TaskStatus, limit int) ([]models.Task, error) {
	q := r.db.WithContext(ctx).Order("id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Task
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TaskRepository) CompareAndSetStatus(ctx context.Context, id uint, from []models.TaskStatus, to models.TaskStatus, lastError string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"last_error": lastError,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *TaskRepository) StartOccurrence(ctx context.Context, id uint, from []models.TaskStatus) (*models.Task, bool, error) {
	var (
		t       models.Task
		started bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Task{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(map[string]any{
				"status":      models.TaskRunning,
				"occurrence":  gorm.Expr("occurrence + 1"),
				"next_run_at": nil,
				"retry_count": 0,
				"last_error":  "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		started = true
		return tx.First(&t, id).Error
	})
	if err != nil {
		return nil, false, err
	}
	if !started {
		return nil, false, nil
	}
	return &t, true, nil
}

func (r *TaskRepository) ScheduleNext(ctx context.Context, id uint, from []models.TaskStatus, next time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":      models.TaskStatusScheduled,
			"next_run_at": next,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *TaskRepository) IncrementRetry(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND retry_count < max_retries", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *TaskRepository) ListDue(ctx context.Context, now time.Time) ([]models.Task, error) {
	var out []models.Task
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", models.TaskStatusScheduled, now).
		Order("next_run_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TaskRepository) ListStalePending(ctx context.Context, before time.Time) ([]models.Task, error) {
	var out []models.Task
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", models.TaskPending, before).
		Order("priority DESC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
