package dispatch

import "autojs-hub/backend/app/models"

var terminalStatuses = []string{StatusSuccess, StatusFailed, StatusTimeout, StatusCancelled}

// executionStatus maps a wire status to the record status. ok is false for
// values a device may not report.
func executionStatus(s string) (models.ExecutionStatus, bool) {
	switch s {
	case StatusRunning:
		return models.ExecRunning, true
	case StatusSuccess:
		return models.ExecSuccess, true
	case StatusFailed:
		return models.ExecFailed, true
	case StatusTimeout:
		return models.ExecTimeout, true
	case StatusCancelled:
		return models.ExecCancelled, true
	default:
		return "", false
	}
}

func wireStatus(s models.ExecutionStatus) string {
	switch s {
	case models.ExecPending:
		return StatusQueued
	case models.ExecRunning:
		return StatusRunning
	case models.ExecSuccess:
		return StatusSuccess
	case models.ExecFailed:
		return StatusFailed
	case models.ExecTimeout:
		return StatusTimeout
	case models.ExecCancelled:
		return StatusCancelled
	default:
		return string(s)
	}
}
