package models

import "time"

// AlertSeverity of an operational alert.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// AlertCategory is the fixed alert taxonomy.
type AlertCategory string

const (
	AlertConnectivity    AlertCategory = "connectivity"
	AlertTemperatureHigh AlertCategory = "temperature_high"
	AlertTemperatureLow  AlertCategory = "temperature_low"
	AlertWaterLevel      AlertCategory = "water_level"
	AlertPhOutOfRange    AlertCategory = "ph_out_of_range"
	AlertEcOutOfRange    AlertCategory = "ec_out_of_range"
	AlertBatteryLow      AlertCategory = "battery_low"
	AlertTowerOffline    AlertCategory = "tower_offline"
)

// Alert is one operational alert. At most one active alert may exist
// per AlertKey at any time.
type Alert struct {
	ID         string        `json:"id"`
	AlertKey   string        `json:"alert_key"`
	FarmID     string        `json:"farm_id"`
	DeviceID   string        `json:"device_id"`
	Severity   AlertSeverity `json:"severity"`
	Category   AlertCategory `json:"category"`
	Status     AlertStatus   `json:"status"`
	Message    string        `json:"message"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// AlertKeyFor builds the dedup identity for an alert.
func AlertKeyFor(farmID, deviceID string, category AlertCategory) string {
	return farmID + ":" + deviceID + ":" + string(category)
}
