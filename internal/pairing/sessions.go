// Package pairing runs the bounded-duration onboarding workflow that
// turns an unknown tower's discovery broadcast into a provisioned twin.
package pairing

import (
	"sync"
	"time"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

// SessionIndex holds the active pairing sessions in memory, at most
// one per (farm, coordinator). Sessions are short-lived operator
// workflows; losing them on restart just means the operator starts
// pairing again, so they are deliberately not persisted.
type SessionIndex struct {
	mu       sync.Mutex
	sessions map[string]*models.PairingSession
}

// NewSessionIndex creates an empty index.
func NewSessionIndex() *SessionIndex {
	return &SessionIndex{sessions: make(map[string]*models.PairingSession)}
}

func sessionKey(farmID, coordID string) string {
	return farmID + ":" + coordID
}

// Get returns the active session for a coordinator, or nil.
func (i *SessionIndex) Get(farmID, coordID string) *models.PairingSession {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sessions[sessionKey(farmID, coordID)]
}

// Put registers a session as the active one for its coordinator.
func (i *SessionIndex) Put(session *models.PairingSession) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sessions[sessionKey(session.FarmID, session.CoordID)] = session
}

// Remove drops a session from the active set. The session object
// itself keeps its terminal status for anyone still holding it.
func (i *SessionIndex) Remove(farmID, coordID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.sessions, sessionKey(farmID, coordID))
}

// Expired returns every active session whose window passed, removing
// each from the index so a repeated call returns nothing.
func (i *SessionIndex) Expired(now time.Time) []*models.PairingSession {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []*models.PairingSession
	for key, s := range i.sessions {
		if s.IsExpired(now) {
			out = append(out, s)
			delete(i.sessions, key)
		}
	}
	return out
}
