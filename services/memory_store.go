package services

import (
	"context"
	"sync"
	"time"

	"chorus/presence-engine/models"
)

// MemoryPresenceStore keeps presence records in process memory. Selected
// with PRESENCE_STORE=memory for local development and tests; state does not
// survive a restart.
type MemoryPresenceStore struct {
	mu    sync.Mutex
	users map[string]*memoryUserRecord
}

type memoryUserRecord struct {
	tenantID string
	isActive bool
	presence models.UserPresence
}

func NewMemoryPresenceStore() *MemoryPresenceStore {
	return &MemoryPresenceStore{
		users: make(map[string]*memoryUserRecord),
	}
}

func (s *MemoryPresenceStore) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	presence := record.presence
	return &presence, nil
}

func (s *MemoryPresenceStore) UpdatePresence(ctx context.Context, userID string, apply func(p *models.UserPresence)) (*models.UserPresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	apply(&record.presence)

	presence := record.presence
	return &presence, nil
}

func (s *MemoryPresenceStore) TenantPresence(ctx context.Context, tenantID string) ([]models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots := make([]models.Snapshot, 0)
	for userID, record := range s.users {
		if record.tenantID != tenantID || !record.isActive {
			continue
		}
		snapshots = append(snapshots, snapshotFor(userID, &record.presence))
	}
	return snapshots, nil
}

func (s *MemoryPresenceStore) MarkAway(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	for _, record := range s.users {
		p := &record.presence
		if p.Status != models.StatusOnline || p.ActiveConnections == 0 {
			continue
		}
		if p.LastHeartbeat == nil || !p.LastHeartbeat.Before(cutoff) {
			continue
		}
		p.Status = models.StatusAway
		affected++
	}
	return affected, nil
}

func (s *MemoryPresenceStore) ClearStale(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	for _, record := range s.users {
		p := &record.presence
		if p.ActiveConnections == 0 {
			continue
		}
		if p.LastHeartbeat == nil || !p.LastHeartbeat.Before(cutoff) {
			continue
		}
		p.Status = models.StatusOffline
		p.ActiveConnections = 0
		affected++
	}
	return affected, nil
}

func (s *MemoryPresenceStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	presence := user.Presence
	if presence.Status == "" {
		presence.Status = models.StatusOffline
	}

	s.users[user.ID.String()] = &memoryUserRecord{
		tenantID: user.TenantID.String(),
		isActive: user.IsActive,
		presence: presence,
	}
	return nil
}
