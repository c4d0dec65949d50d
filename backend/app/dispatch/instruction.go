package dispatch

import (
	"time"

	"autojs-hub/protocol"
)

// The device-facing types live in protocol so agents can use them without
// linking the engine.
type (
	InstructionType   = protocol.InstructionType
	DeviceInstruction = protocol.DeviceInstruction
	HeartbeatRequest  = protocol.HeartbeatRequest
	HeartbeatResponse = protocol.HeartbeatResponse
	PollConfig        = protocol.PollConfig
	ReportRequest     = protocol.ReportRequest
	ReportResponse    = protocol.ReportResponse
)

const (
	InstExecuteScript = protocol.InstExecuteScript
	InstStopScript    = protocol.InstStopScript
	InstUpdateStatus  = protocol.InstUpdateStatus
	InstCollectLog    = protocol.InstCollectLog
	InstRestartApp    = protocol.InstRestartApp
	InstUpdateApp     = protocol.InstUpdateApp
	InstPing          = protocol.InstPing

	DefaultInstructionTimeout = protocol.DefaultInstructionTimeout

	StatusQueued    = protocol.StatusQueued
	StatusDelivered = protocol.StatusDelivered
	StatusRunning   = protocol.StatusRunning
	StatusSuccess   = protocol.StatusSuccess
	StatusFailed    = protocol.StatusFailed
	StatusTimeout   = protocol.StatusTimeout
	StatusCancelled = protocol.StatusCancelled

	ReportOK        = protocol.ReportOK
	ReportError     = protocol.ReportError
	ReportNotFound  = protocol.ReportNotFound
	ReportDuplicate = protocol.ReportDuplicate
)

// NewInstruction builds an instruction with a fresh id created at now.
func NewInstruction(typ InstructionType, data map[string]any, priority, timeout int, now time.Time) DeviceInstruction {
	return protocol.NewInstruction(typ, data, priority, timeout, now)
}
