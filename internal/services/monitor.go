package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/smartfilterpro/edge-relay/internal/models"
)

// ClimateState is one observation of the thermostat, as supplied by the
// external state provider. The monitor never polls on its own.
type ClimateState struct {
	HVACMode           string   `json:"hvac_mode"`
	HVACAction         string   `json:"hvac_action"`
	FanMode            string   `json:"fan_mode"`
	CurrentTemperature *float64 `json:"current_temperature"`
	TargetTemperature  *float64 `json:"target_temperature"`
	TargetTempHigh     *float64 `json:"target_temp_high"`
	TargetTempLow      *float64 `json:"target_temp_low"`
	Connected          bool     `json:"connected"`
	DeviceName         string   `json:"device_name"`
	Manufacturer       string   `json:"manufacturer"`
	Model              string   `json:"model"`
}

// StateProvider yields the current thermostat state on demand.
type StateProvider interface {
	State(ctx context.Context) (ClimateState, error)
}

// EventSink receives the raw events the monitor produces. Pipeline
// implements it.
type EventSink interface {
	Submit(event *models.Event)
}

// hvac_action values that mean air is moving
var activeActions = map[string]bool{
	"heating": true,
	"cooling": true,
	"fan":     true,
}

// fan modes that keep air moving even while hvac_action reads idle
var fanActiveModes = map[string]bool{
	"on":        true,
	"on_high":   true,
	"circulate": true,
}

// ClimateMonitor turns a stream of thermostat observations into events:
// a cycle_start when the system becomes active, a cycle_end (with runtime)
// when it stops, and a state_ping otherwise. Single-writer like the rest of
// the session pipeline.
type ClimateMonitor struct {
	deviceKey string
	sink      EventSink

	active      bool
	activeSince time.Time
	lastAction  string
}

func NewClimateMonitor(deviceKey string, sink EventSink) *ClimateMonitor {
	return &ClimateMonitor{
		deviceKey: deviceKey,
		sink:      sink,
	}
}

// StateIsActive reports whether the observed state counts as "moving air":
// an active hvac_action, or an idle/unknown action with an actively
// circulating fan mode.
func StateIsActive(state ClimateState) bool {
	if activeActions[state.HVACAction] {
		return true
	}
	fanMode := strings.ToLower(strings.TrimSpace(state.FanMode))
	if (state.HVACAction == "" || state.HVACAction == "idle") && fanActiveModes[fanMode] {
		return true
	}
	return false
}

// Observe classifies one observation, updates cycle tracking, and submits
// the resulting event to the sink. The event (pre-sequencing) is returned
// for callers that want to inspect it.
func (m *ClimateMonitor) Observe(state ClimateState) *models.Event {
	now := time.Now().UTC()
	isActive := StateIsActive(state)
	wasActive := m.active

	event := &models.Event{
		DeviceKey: m.deviceKey,
		Timestamp: now,
		EventType: models.EventStatePing,
		Reading:   readingFromState(state, isActive),
	}

	switch {
	case isActive && !wasActive:
		m.activeSince = now
		event.EventType = models.EventCycleStart
		log.Printf("[monitor] cycle start device=%s action=%s->%s fan_mode=%s",
			m.deviceKey, m.lastAction, state.HVACAction, state.FanMode)

	case !isActive && wasActive:
		event.EventType = models.EventCycleEnd
		cycle := &models.CycleSummary{CycleEnd: now}
		if !m.activeSince.IsZero() {
			cycle.CycleStart = m.activeSince
			cycle.RuntimeSeconds = int64(now.Sub(m.activeSince) / time.Second)
		}
		event.Cycle = cycle
		m.activeSince = time.Time{}
		log.Printf("[monitor] cycle end device=%s action=%s->%s duration=%ds",
			m.deviceKey, m.lastAction, state.HVACAction, cycle.RuntimeSeconds)
	}

	m.lastAction = state.HVACAction
	m.active = isActive

	if m.sink != nil {
		m.sink.Submit(event)
	}
	return event
}

// Prime seeds cycle tracking from the state visible at startup and emits
// the initial steady-state ping. A cycle already in progress gets its start
// time seeded to now; the true start is unknowable after a restart.
func (m *ClimateMonitor) Prime(state ClimateState) *models.Event {
	m.active = StateIsActive(state)
	m.lastAction = state.HVACAction
	if m.active && m.activeSince.IsZero() {
		m.activeSince = time.Now().UTC()
	}
	return m.Observe(state)
}

func readingFromState(state ClimateState, isActive bool) *models.ClimateReading {
	return &models.ClimateReading{
		CurrentTemperature: state.CurrentTemperature,
		TargetTemperature:  state.TargetTemperature,
		TargetTempHigh:     state.TargetTempHigh,
		TargetTempLow:      state.TargetTempLow,
		HVACMode:           state.HVACMode,
		HVACAction:         state.HVACAction,
		FanMode:            state.FanMode,
		IsActive:           isActive,
		Connected:          state.Connected,
		DeviceName:         state.DeviceName,
		Manufacturer:       state.Manufacturer,
		Model:              state.Model,
	}
}
