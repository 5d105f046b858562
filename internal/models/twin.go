package models

import "time"

// TwinKind identifies which variant of device a twin shadows.
type TwinKind string

const (
	KindReservoir TwinKind = "reservoir"
	KindTower     TwinKind = "tower"
)

// SyncStatus tracks whether desired and reported state are reconciled.
type SyncStatus string

const (
	SyncInSync  SyncStatus = "in_sync"
	SyncPending SyncStatus = "pending"
	SyncStale   SyncStatus = "stale"
	SyncOffline SyncStatus = "offline"
)

// Device status modes as reported on the wire.
const (
	StatusModeOperational = "operational"
	StatusModePairing     = "pairing"
	StatusModeIdle        = "idle"
	StatusModeOTA         = "ota"
	StatusModeError       = "error"
	StatusModeOffline     = "offline"
)

// TwinKey is the composite identity of a twin. TowerID is empty for the
// coordinator/reservoir twin of a given (farm, coordinator) pair.
type TwinKey struct {
	FarmID  string
	CoordID string
	TowerID string
}

// DeviceID returns the identifier used in alert keys and notifications:
// the tower ID for tower twins, otherwise the coordinator ID.
func (k TwinKey) DeviceID() string {
	if k.TowerID != "" {
		return k.TowerID
	}
	return k.CoordID
}

// Kind derives the twin variant from the key shape.
func (k TwinKey) Kind() TwinKind {
	if k.TowerID != "" {
		return KindTower
	}
	return KindReservoir
}

// Twin is the persisted shadow of one physical device: the last reported
// state observed from it and the desired state requested for it.
type Twin struct {
	ID      string   `json:"id"`
	FarmID  string   `json:"farm_id"`
	CoordID string   `json:"coord_id"`
	TowerID string   `json:"tower_id,omitempty"`
	Kind    TwinKind `json:"kind"`

	Reported DeviceState `json:"reported"`
	Desired  DeviceState `json:"desired"`

	SyncStatus     SyncStatus `json:"sync_status"`
	Version        int64      `json:"version"`
	LastReportedAt *time.Time `json:"last_reported_at,omitempty"`
	LastDesiredAt  *time.Time `json:"last_desired_at,omitempty"`
	IsConnected    bool       `json:"is_connected"`
	SyncRetryCount int        `json:"sync_retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the composite identity of the twin.
func (t *Twin) Key() TwinKey {
	return TwinKey{FarmID: t.FarmID, CoordID: t.CoordID, TowerID: t.TowerID}
}

// CommandTopic returns the MQTT topic the device listens on for commands.
func (k TwinKey) CommandTopic() string {
	if k.TowerID != "" {
		return "farm/" + k.FarmID + "/coord/" + k.CoordID + "/tower/" + k.TowerID + "/cmd"
	}
	return "farm/" + k.FarmID + "/coord/" + k.CoordID + "/cmd"
}
