package models

import (
	"time"
)

type EventType string

const (
	EventCycleStart EventType = "cycle_start"
	EventCycleEnd   EventType = "cycle_end"
	EventStatePing  EventType = "state_ping"
)

// Event is the envelope for one observed state transition or measurement.
// Exactly one of the payload fields is set, matching EventType.
type Event struct {
	DeviceKey      string          `json:"device_key"`
	SourceVendor   string          `json:"source_vendor,omitempty"`
	SequenceNumber uint64          `json:"sequence_number"`
	Timestamp      time.Time       `json:"ts"`
	EventType      EventType       `json:"event_type"`
	Reading        *ClimateReading `json:"reading,omitempty"`
	Cycle          *CycleSummary   `json:"cycle,omitempty"`
}

// ClimateReading carries the thermostat snapshot attached to every event.
type ClimateReading struct {
	CurrentTemperature *float64 `json:"current_temperature,omitempty"`
	TargetTemperature  *float64 `json:"target_temperature,omitempty"`
	TargetTempHigh     *float64 `json:"target_temp_high,omitempty"`
	TargetTempLow      *float64 `json:"target_temp_low,omitempty"`
	HVACMode           string   `json:"hvac_mode,omitempty"`
	HVACAction         string   `json:"hvac_status,omitempty"`
	FanMode            string   `json:"fan_mode,omitempty"`
	IsActive           bool     `json:"is_active"`
	Connected          bool     `json:"connected"`
	DeviceName         string   `json:"device_name,omitempty"`
	Manufacturer       string   `json:"thermostat_manufacturer,omitempty"`
	Model              string   `json:"thermostat_model,omitempty"`
}

// CycleSummary is attached to cycle_end events only.
type CycleSummary struct {
	RuntimeSeconds int64     `json:"runtime_seconds"`
	CycleStart     time.Time `json:"cycle_start_ts"`
	CycleEnd       time.Time `json:"cycle_end_ts"`
}
