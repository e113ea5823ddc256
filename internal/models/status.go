package models

import "time"

type AgentStatus struct {
	DeviceKey    string    `json:"device_key"`
	Status       string    `json:"status"`
	LastSendAt   time.Time `json:"last_send_at"`
	LastSequence uint64    `json:"last_sequence"`
	LastError    string    `json:"last_error,omitempty"`
}

type SendStatus string

const (
	SendStatusOK       SendStatus = "ok"
	SendStatusDegraded SendStatus = "degraded"
	SendStatusIdle     SendStatus = "idle"
)
