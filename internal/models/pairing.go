package models

import "time"

// PairingSessionStatus is the lifecycle state of an onboarding session.
type PairingSessionStatus string

const (
	SessionActive    PairingSessionStatus = "active"
	SessionCompleted PairingSessionStatus = "completed"
	SessionCancelled PairingSessionStatus = "cancelled"
	SessionExpired   PairingSessionStatus = "expired"
)

// PairingRequestStatus is the per-device decision within a session.
type PairingRequestStatus string

const (
	RequestPending  PairingRequestStatus = "pending"
	RequestApproved PairingRequestStatus = "approved"
	RequestRejected PairingRequestStatus = "rejected"
)

// PairingRequest is one discovered device waiting for an operator
// decision inside a pairing window.
type PairingRequest struct {
	RequestID    string               `json:"request_id"`
	DeviceID     string               `json:"device_id"`
	Mac          string               `json:"mac,omitempty"`
	Rssi         int                  `json:"rssi"`
	Firmware     string               `json:"fw,omitempty"`
	Capabilities []string             `json:"capabilities,omitempty"`
	Status       PairingRequestStatus `json:"status"`
	ReceivedAt   time.Time            `json:"received_at"`
	ResolvedAt   *time.Time           `json:"resolved_at,omitempty"`
}

// PairingSession is a bounded-duration window during which unknown
// devices may be discovered and provisioned for one coordinator.
// At most one active session exists per (farm, coordinator) pair.
type PairingSession struct {
	SessionID string               `json:"session_id"`
	FarmID    string               `json:"farm_id"`
	CoordID   string               `json:"coord_id"`
	Status    PairingSessionStatus `json:"status"`
	StartedAt time.Time            `json:"started_at"`
	ExpiresAt time.Time            `json:"expires_at"`
	EndedAt   *time.Time           `json:"ended_at,omitempty"`

	PendingRequests map[string]*PairingRequest `json:"pending_requests"`
	ApprovedTowers  []string                   `json:"approved_towers"`
	RejectedTowers  []string                   `json:"rejected_towers"`
}

// IsExpired reports whether the session's window has passed.
func (s *PairingSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Snapshot returns a deep copy of the request. Observers get copies
// so a later refresh of the live record cannot touch what they hold.
func (r *PairingRequest) Snapshot() *PairingRequest {
	out := *r
	out.Capabilities = append([]string(nil), r.Capabilities...)
	if r.ResolvedAt != nil {
		resolvedAt := *r.ResolvedAt
		out.ResolvedAt = &resolvedAt
	}
	return &out
}

// Snapshot returns a deep copy of the session, including its pending
// requests. Safe to hand off while the live session keeps changing.
func (s *PairingSession) Snapshot() *PairingSession {
	out := *s
	out.PendingRequests = make(map[string]*PairingRequest, len(s.PendingRequests))
	for id, req := range s.PendingRequests {
		out.PendingRequests[id] = req.Snapshot()
	}
	out.ApprovedTowers = append([]string(nil), s.ApprovedTowers...)
	out.RejectedTowers = append([]string(nil), s.RejectedTowers...)
	if s.EndedAt != nil {
		endedAt := *s.EndedAt
		out.EndedAt = &endedAt
	}
	return &out
}
