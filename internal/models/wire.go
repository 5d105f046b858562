package models

// Wire payloads for non-telemetry topics. Telemetry payloads decode
// directly into DeviceState; identity always comes from the topic path,
// so the ts/farm_id/coord_id envelope fields the firmware includes are
// simply ignored by the decoder.

// DiscoveryRequest arrives on farm/{f}/coord/{c}/pairing/request when a
// tower advertises itself during a pairing window.
type DiscoveryRequest struct {
	DeviceID     string   `json:"device_id"`
	Mac          string   `json:"mac"`
	Rssi         int      `json:"rssi"`
	Firmware     string   `json:"fw"`
	Capabilities []string `json:"capabilities"`
}

// PairingCompletion arrives on farm/{f}/coord/{c}/pairing/complete once
// the coordinator finishes (or aborts) binding a tower.
type PairingCompletion struct {
	DeviceID     string   `json:"device_id"`
	Success      bool     `json:"success"`
	Firmware     string   `json:"fw"`
	Capabilities []string `json:"capabilities"`
	Error        string   `json:"error"`
}

// ConnectionEvent arrives on farm/{f}/coord/{c}/status/connection.
type ConnectionEvent struct {
	Event  string `json:"event"` // "connected" or "disconnected"
	Reason string `json:"reason"`
}

// AnnounceMessage arrives on coordinator/{coordId}/announce when a
// coordinator boots and asks to be registered.
type AnnounceMessage struct {
	CoordID  string `json:"coord_id"`
	FarmID   string `json:"farm_id"`
	Firmware string `json:"fw"`
	IP       string `json:"ip"`
}

// PairingCommand is published to a device command topic to drive the
// onboarding workflow.
type PairingCommand struct {
	Cmd       string `json:"cmd"` // start_pairing, stop_pairing, approve, reject, forget
	DeviceID  string `json:"device_id,omitempty"`
	DurationS int    `json:"duration_s,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
