package services

import (
	"context"

	"chorus/presence-engine/models"
	"chorus/presence-engine/utils"
)

// Server-to-client event names.
const (
	EventPresenceInit    = "presence:init"
	EventPresenceBulk    = "presence:bulk"
	EventPresenceChanged = "presence:changed"
)

// Broadcaster fans state changes out to connected tenant peers. Delivery is
// best-effort and at-most-once. This interface is the single seam for
// multi-process delivery: a broker-backed implementation would replace the
// local registry walk.
type Broadcaster interface {
	// BroadcastChange pushes the user's current snapshot to every other
	// connection in the tenant.
	BroadcastChange(ctx context.Context, userID, tenantID string)

	// BroadcastToUser pushes an arbitrary event to every connection of one
	// user. Shared primitive for consumers like notification delivery.
	BroadcastToUser(userID, event string, payload interface{})

	// BulkSnapshots resolves snapshots for every reachable user of the
	// tenant, for the connect-time bulk push.
	BulkSnapshots(ctx context.Context, tenantID string) []models.Snapshot
}

// LocalBroadcaster delivers over the process-local connection registry.
type LocalBroadcaster struct {
	registry *ConnectionRegistry
	presence *PresenceService
	logger   *utils.Logger
}

func NewLocalBroadcaster(registry *ConnectionRegistry, presence *PresenceService, logger *utils.Logger) *LocalBroadcaster {
	return &LocalBroadcaster{
		registry: registry,
		presence: presence,
		logger:   logger,
	}
}

func (b *LocalBroadcaster) BroadcastChange(ctx context.Context, userID, tenantID string) {
	snapshot, err := b.presence.GetPresence(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to resolve snapshot for broadcast", "user_id", userID, "error", err)
		return
	}

	event := Event{Event: EventPresenceChanged, Data: snapshot}
	for _, peerID := range b.registry.UsersOf(tenantID) {
		if peerID == userID {
			// Never echo a change back to its origin
			continue
		}
		for _, handle := range b.registry.ConnectionsOf(peerID) {
			if !handle.Send(event) {
				b.logger.Debug("Dropped presence push", "user_id", peerID, "connection_id", handle.ID())
			}
		}
	}
}

func (b *LocalBroadcaster) BroadcastToUser(userID, event string, payload interface{}) {
	e := Event{Event: event, Data: payload}
	for _, handle := range b.registry.ConnectionsOf(userID) {
		if !handle.Send(e) {
			b.logger.Debug("Dropped user push", "user_id", userID, "connection_id", handle.ID(), "event", event)
		}
	}
}

func (b *LocalBroadcaster) BulkSnapshots(ctx context.Context, tenantID string) []models.Snapshot {
	userIDs := b.registry.UsersOf(tenantID)
	snapshots := make([]models.Snapshot, 0, len(userIDs))
	for _, userID := range userIDs {
		snapshot, err := b.presence.GetPresence(ctx, userID)
		if err != nil {
			b.logger.Warn("Skipping snapshot in bulk push", "user_id", userID, "error", err)
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}
