package protocol

// Values of instruction_status:<instructionId>. A device reports running or
// one of the terminal values.
const (
	StatusQueued    = "queued"
	StatusDelivered = "delivered"
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
)

// Report outcomes.
const (
	ReportOK        = "ok"
	ReportError     = "error"
	ReportNotFound  = "not_found"
	ReportDuplicate = "duplicate"
)

type HeartbeatRequest struct {
	DeviceCode    string         `json:"deviceCode"`
	Signature     string         `json:"signature"`
	Timestamp     int64          `json:"timestamp"` // unix ms
	AutoJsVersion string         `json:"autoJsVersion,omitempty"`
	DeviceInfo    map[string]any `json:"deviceInfo,omitempty"`
	MonitorData   map[string]any `json:"monitorData,omitempty"`
	// PollTimeout is how long, in seconds, the device will wait on this request.
	PollTimeout int `json:"pollTimeout,omitempty"`
}

type PollConfig struct {
	PollInterval   int `json:"pollInterval"`   // seconds between polls when idle
	MaxPollTimeout int `json:"maxPollTimeout"` // seconds
}

type HeartbeatResponse struct {
	Status       string              `json:"status"`
	Instructions []DeviceInstruction `json:"instructions"`
	ServerTime   int64               `json:"serverTime"`
	Config       *PollConfig         `json:"config,omitempty"`
	Message      string              `json:"message,omitempty"`
}

type ReportRequest struct {
	DeviceCode       string         `json:"deviceCode"`
	Signature        string         `json:"signature"`
	Timestamp        int64          `json:"timestamp"` // unix ms
	InstructionID    string         `json:"instructionId"`
	Status           string         `json:"status"`
	StartTime        int64          `json:"startTime"` // unix ms
	EndTime          int64          `json:"endTime"`   // unix ms
	Output           string         `json:"output,omitempty"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	ExecutionMetrics map[string]any `json:"executionMetrics,omitempty"`
	Screenshots      []string       `json:"screenshots,omitempty"`
}

type ReportResponse struct {
	Status        string `json:"status"`
	InstructionID string `json:"instructionId"`
	ServerTime    int64  `json:"serverTime"`
	Message       string `json:"message,omitempty"`
}
