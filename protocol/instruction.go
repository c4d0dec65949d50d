// Package protocol holds the wire types and request signing shared by the
// hub and the devices that poll it.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

type InstructionType string

const (
	InstExecuteScript InstructionType = "execute_script"
	InstStopScript    InstructionType = "stop_script"
	InstUpdateStatus  InstructionType = "update_status"
	InstCollectLog    InstructionType = "collect_log"
	InstRestartApp    InstructionType = "restart_app"
	InstUpdateApp     InstructionType = "update_app"
	InstPing          InstructionType = "ping"
)

func (t InstructionType) Valid() bool {
	switch t {
	case InstExecuteScript, InstStopScript, InstUpdateStatus, InstCollectLog,
		InstRestartApp, InstUpdateApp, InstPing:
		return true
	default:
		return false
	}
}

// IsUrgent reports whether the type preempts queued work regardless of priority.
func (t InstructionType) IsUrgent() bool {
	switch t {
	case InstStopScript, InstRestartApp, InstPing:
		return true
	case InstExecuteScript, InstUpdateStatus, InstCollectLog, InstUpdateApp:
		return false
	default:
		return false
	}
}

// DefaultInstructionTimeout is the delivery window when none is given, in seconds.
const DefaultInstructionTimeout = 300

// DeviceInstruction is one unit of work pushed to a device. It is never
// mutated once queued; a retry is a new instruction sharing CorrelationID.
type DeviceInstruction struct {
	InstructionID string          `json:"instructionId"`
	Type          InstructionType `json:"type"`
	Data          map[string]any  `json:"data,omitempty"`
	Timeout       int             `json:"timeout"`
	Priority      int             `json:"priority"`
	TaskID        uint            `json:"taskId,omitempty"`
	ScriptID      uint            `json:"scriptId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CreatedTime   int64           `json:"createdTime"` // unix ms
}

// NewInstruction builds an instruction with a fresh id created at now.
func NewInstruction(typ InstructionType, data map[string]any, priority, timeout int, now time.Time) DeviceInstruction {
	if timeout <= 0 {
		timeout = DefaultInstructionTimeout
	}
	return DeviceInstruction{
		InstructionID: uuid.NewString(),
		Type:          typ,
		Data:          data,
		Timeout:       timeout,
		Priority:      priority,
		CreatedTime:   now.UnixMilli(),
	}
}

func (i DeviceInstruction) Created() time.Time { return time.UnixMilli(i.CreatedTime) }

func (i DeviceInstruction) ExpiresAt() time.Time {
	return i.Created().Add(time.Duration(i.Timeout) * time.Second)
}

// IsExpired reports now > createdTime + timeout.
func (i DeviceInstruction) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt())
}

const (
	priorityLimit = 1<<31 - 1
	urgentBucket  = int64(1) << 32
)

// Rank orders a device queue: urgent types first, then priority, FIFO within equal rank.
func (i DeviceInstruction) Rank() int64 {
	p := int64(i.Priority)
	if p > priorityLimit {
		p = priorityLimit
	}
	if p < -priorityLimit {
		p = -priorityLimit
	}
	if i.Type.IsUrgent() {
		return urgentBucket + p
	}
	return p
}
