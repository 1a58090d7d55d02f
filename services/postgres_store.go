package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chorus/presence-engine/models"
)

// PostgresPresenceStore keeps presence records on the users table.
type PostgresPresenceStore struct {
	db *gorm.DB
}

func NewPostgresPresenceStore(db *gorm.DB) *PostgresPresenceStore {
	return &PostgresPresenceStore{db: db}
}

func (s *PostgresPresenceStore) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load presence: %w", err)
	}

	presence := user.Presence
	return &presence, nil
}

func (s *PostgresPresenceStore) UpdatePresence(ctx context.Context, userID string, apply func(p *models.UserPresence)) (*models.UserPresence, error) {
	var out models.UserPresence

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		apply(&user.Presence)

		updates := map[string]interface{}{
			"presence_status":             user.Presence.Status,
			"presence_last_seen":          user.Presence.LastSeen,
			"presence_last_heartbeat":     user.Presence.LastHeartbeat,
			"presence_active_connections": user.Presence.ActiveConnections,
			"presence_custom_status":      user.Presence.CustomStatus,
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
			return err
		}

		out = user.Presence
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update presence: %w", err)
	}

	return &out, nil
}

func (s *PostgresPresenceStore) TenantPresence(ctx context.Context, tenantID string) ([]models.Snapshot, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = true", tenantID).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant presence: %w", err)
	}

	snapshots := make([]models.Snapshot, 0, len(users))
	for i := range users {
		snapshots = append(snapshots, snapshotFor(users[i].ID.String(), &users[i].Presence))
	}
	return snapshots, nil
}

func (s *PostgresPresenceStore) MarkAway(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("presence_status = ?", models.StatusOnline).
		Where("presence_last_heartbeat < ?", cutoff).
		Where("presence_active_connections > 0").
		Update("presence_status", models.StatusAway)
	if res.Error != nil {
		return 0, fmt.Errorf("away sweep update failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *PostgresPresenceStore) ClearStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("presence_last_heartbeat < ?", cutoff).
		Where("presence_active_connections > 0").
		Updates(map[string]interface{}{
			"presence_status":             models.StatusOffline,
			"presence_active_connections": 0,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("stale sweep update failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *PostgresPresenceStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
