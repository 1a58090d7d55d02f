package services

import (
	"context"
	"errors"
	"time"

	"chorus/presence-engine/models"
)

// ErrUserNotFound is returned when a presence operation addresses a user id
// that does not exist in the store.
var ErrUserNotFound = errors.New("user not found")

// PresenceStore is the durable home of per-user presence records. The record
// lives inside the user entity; this interface covers only the presence
// sub-record plus the provisioning seam the external user service uses to
// create rows.
type PresenceStore interface {
	// GetPresence returns the current record for one user.
	GetPresence(ctx context.Context, userID string) (*models.UserPresence, error)

	// UpdatePresence applies a read-modify-write to one user's record and
	// returns the state as written.
	UpdatePresence(ctx context.Context, userID string, apply func(p *models.UserPresence)) (*models.UserPresence, error)

	// TenantPresence returns snapshots for every active user of a tenant.
	TenantPresence(ctx context.Context, tenantID string) ([]models.Snapshot, error)

	// MarkAway bulk-flags online users whose last heartbeat is older than
	// cutoff and who still hold connections. Returns the affected count.
	MarkAway(ctx context.Context, cutoff time.Time) (int64, error)

	// ClearStale bulk-resets users whose last heartbeat is older than cutoff
	// and who still hold connections, whatever their current status.
	ClearStale(ctx context.Context, cutoff time.Time) (int64, error)

	// CreateUser provisions a user row with a default presence record.
	CreateUser(ctx context.Context, user *models.User) error
}

// snapshotFor projects a presence record into its wire/cache form.
func snapshotFor(userID string, p *models.UserPresence) models.Snapshot {
	status := p.Status
	if status == "" {
		status = models.StatusOffline
	}
	return models.Snapshot{
		UserID:            userID,
		Status:            status,
		LastSeen:          p.LastSeen,
		CustomStatus:      p.CustomStatus,
		ActiveConnections: p.ActiveConnections,
	}
}
