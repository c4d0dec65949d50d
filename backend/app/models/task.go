package models

import (
	"errors"
	"fmt"
	"time"
)

type TaskType string

const (
	TaskImmediate TaskType = "IMMEDIATE"
	TaskScheduled TaskType = "SCHEDULED"
	TaskRecurring TaskType = "RECURRING"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskImmediate, TaskScheduled, TaskRecurring:
		return true
	default:
		return false
	}
}

type TargetType string

const (
	TargetAll      TargetType = "ALL"
	TargetGroup    TargetType = "GROUP"
	TargetSpecific TargetType = "SPECIFIC"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetAll, TargetGroup, TargetSpecific:
		return true
	default:
		return false
	}
}

type TaskStatus string

const (
	TaskPending            TaskStatus = "PENDING"
	TaskStatusScheduled    TaskStatus = "SCHEDULED"
	TaskRunning            TaskStatus = "RUNNING"
	TaskPaused             TaskStatus = "PAUSED"
	TaskCompleted          TaskStatus = "COMPLETED"
	TaskPartiallyCompleted TaskStatus = "PARTIALLY_COMPLETED"
	TaskFailed             TaskStatus = "FAILED"
	TaskCancelled          TaskStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskPartiallyCompleted, TaskFailed, TaskCancelled:
		return true
	case TaskPending, TaskStatusScheduled, TaskRunning, TaskPaused:
		return false
	default:
		return false
	}
}

// ErrInvalidTask marks a task whose configuration violates the target rules.
var ErrInvalidTask = errors.New("invalid task")

// Task is the aggregate root for one batch of work.
type Task struct {
	ID                 uint           `gorm:"primaryKey"`
	Name               string         `gorm:"size:255;not null"`
	TaskType           TaskType       `gorm:"size:32;not null"`
	TargetType         TargetType     `gorm:"size:32;not null"`
	TargetDeviceIDs    []string       `gorm:"serializer:json"`
	TargetGroup        string         `gorm:"size:191"`
	ScriptID           uint           `gorm:"index"`
	Parameters         map[string]any `gorm:"serializer:json"`
	Priority           int
	MaxRetries         int
	RetryCount         int
	RetryOnCancel      bool
	ScheduledTime      *time.Time
	RecurrenceInterval int // seconds, RECURRING only
	NextRunAt          *time.Time `gorm:"index"`
	Occurrence         int
	Status             TaskStatus `gorm:"size:32;index;not null"`
	LastError          string     `gorm:"size:512"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Validate checks the configuration invariants of a task.
func (t *Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	if !t.TaskType.Valid() {
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidTask, t.TaskType)
	}
	if t.ScriptID == 0 {
		return fmt.Errorf("%w: script is required", ErrInvalidTask)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("%w: maxRetries must not be negative", ErrInvalidTask)
	}
	switch t.TargetType {
	case TargetAll:
	case TargetGroup:
		if t.TargetGroup == "" {
			return fmt.Errorf("%w: GROUP target requires targetGroup", ErrInvalidTask)
		}
	case TargetSpecific:
		if len(t.TargetDeviceIDs) == 0 {
			return fmt.Errorf("%w: SPECIFIC target requires targetDeviceIds", ErrInvalidTask)
		}
	default:
		return fmt.Errorf("%w: unknown target type %q", ErrInvalidTask, t.TargetType)
	}
	switch t.TaskType {
	case TaskScheduled:
		if t.ScheduledTime == nil {
			return fmt.Errorf("%w: SCHEDULED task requires scheduledTime", ErrInvalidTask)
		}
	case TaskRecurring:
		if t.RecurrenceInterval <= 0 {
			return fmt.Errorf("%w: RECURRING task requires recurrenceInterval", ErrInvalidTask)
		}
	case TaskImmediate:
	}
	return nil
}

// Interval returns the recurrence interval as a duration.
func (t *Task) Interval() time.Duration {
	return time.Duration(t.RecurrenceInterval) * time.Second
}
