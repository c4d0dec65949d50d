package dto

import (
	"autojs-hub/backend/app/models"
)

func (r CreateTaskRequest) Model() models.Task {
	return models.Task{
		Name:               r.Name,
		TaskType:           models.TaskType(r.TaskType),
		TargetType:         models.TargetType(r.TargetType),
		TargetDeviceIDs:    r.TargetDeviceIDs,
		TargetGroup:        r.TargetGroup,
		ScriptID:           r.ScriptID,
		Parameters:         r.Parameters,
		Priority:           r.Priority,
		MaxRetries:         r.MaxRetries,
		RetryOnCancel:      r.RetryOnCancel,
		ScheduledTime:      r.ScheduledTime,
		RecurrenceInterval: r.RecurrenceInterval,
	}
}

func NewTaskResponse(t *models.Task) TaskResponse {
	return TaskResponse{
		ID:                 t.ID,
		Name:               t.Name,
		TaskType:           string(t.TaskType),
		TargetType:         string(t.TargetType),
		TargetDeviceIDs:    t.TargetDeviceIDs,
		TargetGroup:        t.TargetGroup,
		ScriptID:           t.ScriptID,
		Parameters:         t.Parameters,
		Priority:           t.Priority,
		MaxRetries:         t.MaxRetries,
		RetryCount:         t.RetryCount,
		RetryOnCancel:      t.RetryOnCancel,
		ScheduledTime:      t.ScheduledTime,
		RecurrenceInterval: t.RecurrenceInterval,
		NextRunAt:          t.NextRunAt,
		Occurrence:         t.Occurrence,
		Status:             string(t.Status),
		LastError:          t.LastError,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

func NewExecutionResponse(r *models.ScriptExecutionRecord) ExecutionResponse {
	return ExecutionResponse{
		InstructionID: r.InstructionID,
		DeviceCode:    r.DeviceCode,
		CorrelationID: r.CorrelationID,
		Occurrence:    r.Occurrence,
		Attempt:       r.Attempt,
		Status:        string(r.Status),
		DeliveredAt:   r.DeliveredAt,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		DurationMs:    r.DurationMs,
		Output:        r.Output,
		ErrorMessage:  r.ErrorMessage,
		Metrics:       r.Metrics,
	}
}

func NewScriptResponse(s *models.Script, withContent bool) ScriptResponse {
	resp := ScriptResponse{ID: s.ID, Name: s.Name, Timeout: s.TimeoutSeconds(), CreatedAt: s.CreatedAt}
	if withContent {
		resp.Content = s.Content
	}
	return resp
}
