package dto

import "time"

type CreateTaskRequest struct {
	Name               string         `json:"name"`
	TaskType           string         `json:"taskType"`
	TargetType         string         `json:"targetType"`
	TargetDeviceIDs    []string       `json:"targetDeviceIds,omitempty"`
	TargetGroup        string         `json:"targetGroup,omitempty"`
	ScriptID           uint           `json:"scriptId"`
	Parameters         map[string]any `json:"parameters,omitempty"`
	Priority           int            `json:"priority,omitempty"`
	MaxRetries         int            `json:"maxRetries,omitempty"`
	RetryOnCancel      bool           `json:"retryOnCancel,omitempty"`
	ScheduledTime      *time.Time     `json:"scheduledTime,omitempty"`
	RecurrenceInterval int            `json:"recurrenceInterval,omitempty"` // seconds
}

type TaskResponse struct {
	ID                 uint           `json:"id"`
	Name               string         `json:"name"`
	TaskType           string         `json:"taskType"`
	TargetType         string         `json:"targetType"`
	TargetDeviceIDs    []string       `json:"targetDeviceIds,omitempty"`
	TargetGroup        string         `json:"targetGroup,omitempty"`
	ScriptID           uint           `json:"scriptId"`
	Parameters         map[string]any `json:"parameters,omitempty"`
	Priority           int            `json:"priority"`
	MaxRetries         int            `json:"maxRetries"`
	RetryCount         int            `json:"retryCount"`
	RetryOnCancel      bool           `json:"retryOnCancel"`
	ScheduledTime      *time.Time     `json:"scheduledTime,omitempty"`
	RecurrenceInterval int            `json:"recurrenceInterval,omitempty"`
	NextRunAt          *time.Time     `json:"nextRunAt,omitempty"`
	Occurrence         int            `json:"occurrence"`
	Status             string         `json:"status"`
	LastError          string         `json:"lastError,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

type ExecutionResponse struct {
	InstructionID string         `json:"instructionId"`
	DeviceCode    string         `json:"deviceCode"`
	CorrelationID string         `json:"correlationId"`
	Occurrence    int            `json:"occurrence"`
	Attempt       int            `json:"attempt"`
	Status        string         `json:"status"`
	DeliveredAt   *time.Time     `json:"deliveredAt,omitempty"`
	StartTime     *time.Time     `json:"startTime,omitempty"`
	EndTime       *time.Time     `json:"endTime,omitempty"`
	DurationMs    int64          `json:"durationMs"`
	Output        string         `json:"output,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	Metrics       map[string]any `json:"metrics,omitempty"`
}

type TaskDetailResponse struct {
	Task       TaskResponse        `json:"task"`
	Executions []ExecutionResponse `json:"executions"`
}
