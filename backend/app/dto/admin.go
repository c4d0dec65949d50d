package dto

import (
	"time"

	"autojs-hub/backend/app/dispatch"
)

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type RegisterDeviceRequest struct {
	DeviceCode string `json:"deviceCode"`
	Name       string `json:"name"`
	GroupID    string `json:"groupId"`
}

// RegisterDeviceResponse is the only response that carries the certificate.
type RegisterDeviceResponse struct {
	DeviceCode  string `json:"deviceCode"`
	Name        string `json:"name"`
	GroupID     string `json:"groupId"`
	Certificate string `json:"certificate"`
}

type SetGroupRequest struct {
	DeviceCode string `json:"deviceCode"`
	GroupID    string `json:"groupId"`
}

type DeviceSummary struct {
	DeviceCode    string     `json:"deviceCode"`
	Name          string     `json:"name"`
	GroupID       string     `json:"groupId"`
	AutoJsVersion string     `json:"autoJsVersion,omitempty"`
	Online        bool       `json:"online"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
	LastSeenAt    *time.Time `json:"lastSeenAt,omitempty"`
	QueueDepth    int64      `json:"queueDepth"`
}

type DeviceQueueResponse struct {
	DeviceCode string                       `json:"deviceCode"`
	Depth      int64                        `json:"depth"`
	Pending    []dispatch.DeviceInstruction `json:"pending"`
}

type SendInstructionRequest struct {
	DeviceCode string         `json:"deviceCode"`
	Type       string         `json:"type"`
	Data       map[string]any `json:"data,omitempty"`
	Priority   int            `json:"priority,omitempty"`
	Timeout    int            `json:"timeout,omitempty"` // seconds
}
