package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chorus/presence-engine/config"
	"chorus/presence-engine/models"
	"chorus/presence-engine/utils"
)

// ErrInvalidStatus is returned for a status outside the four-value enum.
// Both transports validate before calling the service; this is the backstop.
var ErrInvalidStatus = errors.New("invalid presence status")

// PresenceService applies presence state transitions: every transition is a
// read-modify-write against the durable store followed by a cache re-derive,
// so callers observe the post-write state. The transition mutex serializes
// connect/disconnect/heartbeat/manual updates and sweeps against each other;
// a sweep never observes a half-written record.
type PresenceService struct {
	store  PresenceStore
	cache  *SnapshotCache
	logger *utils.Logger

	awayThreshold  time.Duration
	staleThreshold time.Duration

	mu sync.Mutex
}

func NewPresenceService(store PresenceStore, cache *SnapshotCache, cfg *config.Config, logger *utils.Logger) *PresenceService {
	return &PresenceService{
		store:          store,
		cache:          cache,
		logger:         logger,
		awayThreshold:  cfg.AwayThreshold,
		staleThreshold: cfg.StaleThreshold,
	}
}

// Connect records one new connection for the user and marks them online.
func (s *PresenceService) Connect(ctx context.Context, userID string) (models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err := s.store.UpdatePresence(ctx, userID, func(p *models.UserPresence) {
		p.ActiveConnections++
		p.Status = models.StatusOnline
		p.LastSeen = &now
		p.LastHeartbeat = &now
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("connect transition for user %s: %w", userID, err)
	}

	snapshot, err := s.refresh(ctx, userID)
	if err != nil {
		return models.Snapshot{}, err
	}

	s.logger.Info("User is now online", "user_id", userID, "connections", snapshot.ActiveConnections)
	return snapshot, nil
}

// Disconnect records one closed connection. Only the last connection flips
// the user offline; the count never goes below zero.
func (s *PresenceService) Disconnect(ctx context.Context, userID string) (models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err := s.store.UpdatePresence(ctx, userID, func(p *models.UserPresence) {
		if p.ActiveConnections > 0 {
			p.ActiveConnections--
		}
		if p.ActiveConnections == 0 {
			p.Status = models.StatusOffline
			p.LastSeen = &now
		}
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("disconnect transition for user %s: %w", userID, err)
	}

	snapshot, err := s.refresh(ctx, userID)
	if err != nil {
		return models.Snapshot{}, err
	}

	if snapshot.ActiveConnections == 0 {
		s.logger.Info("User is now offline", "user_id", userID)
	}
	return snapshot, nil
}

// Heartbeat refreshes the user's activity timestamps. Status is always reset
// to online, including over a manually set away or busy.
func (s *PresenceService) Heartbeat(ctx context.Context, userID string) (models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err := s.store.UpdatePresence(ctx, userID, func(p *models.UserPresence) {
		p.LastHeartbeat = &now
		p.LastSeen = &now
		p.Status = models.StatusOnline
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("heartbeat for user %s: %w", userID, err)
	}

	return s.refresh(ctx, userID)
}

// UpdateStatus applies a manual status change. Leaves activeConnections and
// lastHeartbeat untouched; a nil customStatus clears the stored one.
func (s *PresenceService) UpdateStatus(ctx context.Context, userID string, status models.PresenceStatus, customStatus *string) (models.Snapshot, error) {
	if !status.Valid() {
		return models.Snapshot{}, ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err := s.store.UpdatePresence(ctx, userID, func(p *models.UserPresence) {
		p.Status = status
		p.CustomStatus = customStatus
		p.LastSeen = &now
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("status update for user %s: %w", userID, err)
	}

	snapshot, err := s.refresh(ctx, userID)
	if err != nil {
		return models.Snapshot{}, err
	}

	s.logger.Info("User status updated", "user_id", userID, "status", status)
	return snapshot, nil
}

// GetPresence returns the user's snapshot, cache-first with read-through.
func (s *PresenceService) GetPresence(ctx context.Context, userID string) (models.Snapshot, error) {
	if snapshot, ok := s.cache.Get(userID); ok {
		return snapshot, nil
	}
	return s.refresh(ctx, userID)
}

// TenantPresence returns snapshots for every active user of the tenant,
// straight from the store.
func (s *PresenceService) TenantPresence(ctx context.Context, tenantID string) ([]models.Snapshot, error) {
	return s.store.TenantPresence(ctx, tenantID)
}

// DetectAwayUsers bulk-flags online users whose heartbeat went stale while
// they still hold connections. Cache entries for swept users stay stale
// until their next touch.
func (s *PresenceService) DetectAwayUsers(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.awayThreshold)
	count, err := s.store.MarkAway(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("away sweep: %w", err)
	}
	if count > 0 {
		s.logger.Info("Set users to away status", "count", count)
	}
	return nil
}

// CleanupStaleConnections bulk-resets users whose heartbeat went stale past
// the hard threshold, whatever their current status. Force-clears manually
// set busy/away records too.
func (s *PresenceService) CleanupStaleConnections(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.staleThreshold)
	count, err := s.store.ClearStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("stale sweep: %w", err)
	}
	if count > 0 {
		s.logger.Info("Cleaned up stale connections", "count", count)
	}
	return nil
}

// ClearCache drops every cached snapshot.
func (s *PresenceService) ClearCache() {
	s.cache.Clear()
}

// refresh re-derives the cache entry from the durable record.
func (s *PresenceService) refresh(ctx context.Context, userID string) (models.Snapshot, error) {
	presence, err := s.store.GetPresence(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.cache.Delete(userID)
		}
		return models.Snapshot{}, err
	}

	snapshot := snapshotFor(userID, presence)
	s.cache.Set(snapshot)
	return snapshot, nil
}
