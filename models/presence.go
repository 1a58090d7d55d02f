package models

import "time"

// PresenceStatus is the availability state of a user
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
)

// Valid reports whether the status is one of the four allowed values.
// Anything else is rejected at the transport boundary.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	}
	return false
}

// UserPresence is the durable presence record embedded in the user entity
type UserPresence struct {
	Status            PresenceStatus `json:"status" gorm:"default:offline"`
	LastSeen          *time.Time     `json:"lastSeen"`
	LastHeartbeat     *time.Time     `json:"lastHeartbeat"`
	ActiveConnections int            `json:"activeConnections" gorm:"default:0"`
	CustomStatus      *string        `json:"customStatus"`
}

// Snapshot is a read projection of a presence record, used as the cache
// value and the wire payload. Never authoritative on its own. Field casing
// matches the frontend contract on both transports.
type Snapshot struct {
	UserID            string         `json:"userId"`
	Status            PresenceStatus `json:"status"`
	LastSeen          *time.Time     `json:"lastSeen,omitempty"`
	CustomStatus      *string        `json:"customStatus,omitempty"`
	ActiveConnections int            `json:"activeConnections"`
}

// UpdateStatusRequest is the payload of PATCH /presence/status and the
// status-change socket event
type UpdateStatusRequest struct {
	Status       PresenceStatus `json:"status" binding:"required"`
	CustomStatus *string        `json:"customStatus"`
}

// MaxCustomStatusLength caps the free-text status message
const MaxCustomStatusLength = 100

type BulkPresenceResponse struct {
	Presences []Snapshot `json:"presences"`
}
