package events

import (
	"time"

	"github.com/nickcrabtree/electricity-monitoring/energy"
)

// TelemetryEvent carries one pushed power reading for a configured meter,
// published by the MQTT hook and consumed by the meter manager.
type TelemetryEvent struct {
	Timestamp time.Time `json:"timestamp"`
	MeterID   string    `json:"meter_id"`
	PowerW    float64   `json:"power_watts"`
}

// ReportEvent carries the totals of one completed accumulation cycle.
type ReportEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Report    energy.Report `json:"report"`
	// SaveFailed marks cycles whose state persistence failed; the
	// in-memory totals in Report are still valid.
	SaveFailed bool `json:"save_failed"`
}

// ConnectionStatusEvent conveys component lifecycle information
// (web, MQTT broker, influx sink).
type ConnectionStatusEvent struct {
	Timestamp  time.Time        `json:"timestamp"`
	Component  string           `json:"component"`
	Status     ConnectionStatus `json:"status"`
	Error      string           `json:"error"`
	Reconnects int              `json:"reconnects"`
}

// ConnectionStatus represents lifecycle state for a component.
type ConnectionStatus string

const (
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusReconnecting ConnectionStatus = "reconnecting"
	ConnectionStatusFailed       ConnectionStatus = "failed"
)
