package models

import "time"

type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "PENDING"
	ExecRunning   ExecutionStatus = "RUNNING"
	ExecSuccess   ExecutionStatus = "SUCCESS"
	ExecFailed    ExecutionStatus = "FAILED"
	ExecTimeout   ExecutionStatus = "TIMEOUT"
	ExecCancelled ExecutionStatus = "CANCELLED"
)

func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecSuccess, ExecFailed, ExecTimeout, ExecCancelled:
		return true
	case ExecPending, ExecRunning:
		return false
	default:
		return false
	}
}

// IsFailure reports the failure class used by the task rollup.
func (s ExecutionStatus) IsFailure() bool {
	switch s {
	case ExecFailed, ExecTimeout, ExecCancelled:
		return true
	case ExecPending, ExecRunning, ExecSuccess:
		return false
	default:
		return false
	}
}

// ScriptExecutionRecord tracks one instruction on one device. Retries of the
// same device within a task share CorrelationID and increment Attempt.
type ScriptExecutionRecord struct {
	ID            uint            `gorm:"primaryKey"`
	InstructionID string          `gorm:"uniqueIndex;size:64;not null"`
	TaskID        uint            `gorm:"index"`
	ScriptID      uint            `gorm:"index"`
	DeviceCode    string          `gorm:"size:191;index"`
	CorrelationID string          `gorm:"size:64;index"`
	Occurrence    int             `gorm:"index"`
	Attempt       int             `gorm:"default:1"`
	Status        ExecutionStatus `gorm:"size:32;index;not null"`
	ExpiresAt     time.Time       `gorm:"index"`
	DeliveredAt   *time.Time
	StartTime     *time.Time
	EndTime       *time.Time
	DurationMs    int64
	Output        string         `gorm:"type:longtext"`
	ErrorMessage  string         `gorm:"size:1024"`
	Metrics       map[string]any `gorm:"serializer:json"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
