package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chorus/presence-engine/config"
	"chorus/presence-engine/models"
)

const (
	presenceKeyPrefix = "presence:"
	tenantKeyPrefix   = "tenant:"
	sweepScanCount    = 100
)

// NewRedisClient connects to the configured redis backend and verifies the
// connection.
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.DB = cfg.RedisDB

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// redisUserRecord is the value stored at presence:<userId>.
type redisUserRecord struct {
	UserID   string              `json:"user_id"`
	TenantID string              `json:"tenant_id"`
	IsActive bool                `json:"is_active"`
	Presence models.UserPresence `json:"presence"`
}

// RedisPresenceStore keeps presence records in redis: one JSON value per
// user plus a membership set per tenant. Writers are serialized by the
// presence service's transition lock, so read-modify-write here does not
// need WATCH.
type RedisPresenceStore struct {
	redis *redis.Client
}

func NewRedisPresenceStore(client *redis.Client) *RedisPresenceStore {
	return &RedisPresenceStore{redis: client}
}

func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}

func tenantKey(tenantID string) string {
	return tenantKeyPrefix + tenantID + ":users"
}

func (s *RedisPresenceStore) getRecord(ctx context.Context, userID string) (*redisUserRecord, error) {
	data, err := s.redis.Get(ctx, presenceKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var record redisUserRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence data: %w", err)
	}
	return &record, nil
}

func (s *RedisPresenceStore) setRecord(ctx context.Context, record *redisUserRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence data: %w", err)
	}
	if err := s.redis.Set(ctx, presenceKey(record.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}
	return nil
}

func (s *RedisPresenceStore) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	record, err := s.getRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	presence := record.Presence
	return &presence, nil
}

func (s *RedisPresenceStore) UpdatePresence(ctx context.Context, userID string, apply func(p *models.UserPresence)) (*models.UserPresence, error) {
	record, err := s.getRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	apply(&record.Presence)

	if err := s.setRecord(ctx, record); err != nil {
		return nil, err
	}

	presence := record.Presence
	return &presence, nil
}

func (s *RedisPresenceStore) TenantPresence(ctx context.Context, tenantID string) ([]models.Snapshot, error) {
	userIDs, err := s.redis.SMembers(ctx, tenantKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant members: %w", err)
	}

	if len(userIDs) == 0 {
		return []models.Snapshot{}, nil
	}

	// Fetch all records in one pipeline
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(userIDs))
	for i, userID := range userIDs {
		cmds[i] = pipe.Get(ctx, presenceKey(userID))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get tenant presence: %w", err)
	}

	snapshots := make([]models.Snapshot, 0, len(userIDs))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			// Member without a record; skip it
			continue
		}

		var record redisUserRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		if !record.IsActive {
			continue
		}
		snapshots = append(snapshots, snapshotFor(userIDs[i], &record.Presence))
	}

	return snapshots, nil
}

func (s *RedisPresenceStore) MarkAway(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.sweep(ctx, func(p *models.UserPresence) bool {
		if p.Status != models.StatusOnline || p.ActiveConnections == 0 {
			return false
		}
		if p.LastHeartbeat == nil || !p.LastHeartbeat.Before(cutoff) {
			return false
		}
		p.Status = models.StatusAway
		return true
	})
}

func (s *RedisPresenceStore) ClearStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.sweep(ctx, func(p *models.UserPresence) bool {
		if p.ActiveConnections == 0 {
			return false
		}
		if p.LastHeartbeat == nil || !p.LastHeartbeat.Before(cutoff) {
			return false
		}
		p.Status = models.StatusOffline
		p.ActiveConnections = 0
		return true
	})
}

// sweep walks every presence key and writes back the records the mutation
// reports as changed.
func (s *RedisPresenceStore) sweep(ctx context.Context, mutate func(p *models.UserPresence) bool) (int64, error) {
	var affected int64

	iter := s.redis.Scan(ctx, 0, presenceKeyPrefix+"*", sweepScanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := s.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var record redisUserRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}

		if !mutate(&record.Presence) {
			continue
		}

		if err := s.setRecord(ctx, &record); err != nil {
			return affected, err
		}
		affected++
	}
	if err := iter.Err(); err != nil {
		return affected, fmt.Errorf("presence sweep scan failed: %w", err)
	}

	return affected, nil
}

func (s *RedisPresenceStore) CreateUser(ctx context.Context, user *models.User) error {
	record := &redisUserRecord{
		UserID:   user.ID.String(),
		TenantID: user.TenantID.String(),
		IsActive: user.IsActive,
		Presence: user.Presence,
	}
	if record.Presence.Status == "" {
		record.Presence.Status = models.StatusOffline
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence data: %w", err)
	}

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, presenceKey(record.UserID), data, 0)
	pipe.SAdd(ctx, tenantKey(record.TenantID), record.UserID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
