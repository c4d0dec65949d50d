package store

import "time"

// Key templates are shared with other implementations of the device
// protocol and must not change.
const (
	KeyDeviceQueue         = "device_instruction_queue:"
	KeyDevicePollNotify    = "device_poll_notify:"
	KeyDeviceOnline        = "device_online:"
	KeyInstructionStatus   = "instruction_status:"
	KeyDeviceLastHeartbeat = "device_last_heartbeat:"
	KeyGlobalTaskQueue     = "global_task_queue"
	KeyGroupTaskQueue      = "group_task_queue:"
	KeyDeviceLock          = "device_lock:"
	KeyInstructionRetry    = "instruction_retry:"
	KeyDeviceMetrics       = "device_metrics:"

	// ChannelEvents carries engine notifications for external consumers.
	ChannelEvents = "autojs:events"

	// KeyInstructionOwner is local to this hub: the device an instruction
	// was queued for, checked when no execution record names it.
	KeyInstructionOwner = "instruction_owner:"
)

const (
	TTLDeviceOnline        = 120 * time.Second
	TTLInstructionStatus   = 3600 * time.Second
	TTLDeviceLastHeartbeat = 300 * time.Second
	TTLDeviceLock          = 30 * time.Second
	TTLInstructionRetry    = 1800 * time.Second
	TTLDeviceMetrics       = 86400 * time.Second
	TTLInstructionOwner    = TTLInstructionStatus
)

func DeviceQueueKey(deviceCode string) string  { return KeyDeviceQueue + deviceCode }
func PollNotifyKey(deviceCode string) string   { return KeyDevicePollNotify + deviceCode }
func DeviceOnlineKey(deviceCode string) string { return KeyDeviceOnline + deviceCode }
func InstructionStatusKey(instructionID string) string {
	return KeyInstructionStatus + instructionID
}
func LastHeartbeatKey(deviceCode string) string { return KeyDeviceLastHeartbeat + deviceCode }
func GroupTaskQueueKey(groupID string) string   { return KeyGroupTaskQueue + groupID }
func DeviceLockKey(deviceCode string) string    { return KeyDeviceLock + deviceCode }
func InstructionRetryKey(instructionID string) string {
	return KeyInstructionRetry + instructionID
}
func DeviceMetricsKey(deviceCode string) string { return KeyDeviceMetrics + deviceCode }

func InstructionOwnerKey(instructionID string) string {
	return KeyInstructionOwner + instructionID
}
