package models

import "time"

// Farm is the organizational owner of coordinators and towers. Only the
// fields the sync core needs are modeled here; full farm management
// lives in the dashboard backend.
type Farm struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	ActiveAlertCount int       `json:"active_alert_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
