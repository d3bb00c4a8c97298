package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// RegistryCache implements domain.RegistryCache.
//
// Key schema:
//
//	stakefund:milestone:{id}     - JSON milestone
//	stakefund:project:{id}:owner - owner address hex
type RegistryCache struct {
	rdb *redis.Client
}

// NewRegistryCache creates a RegistryCache backed by the given Client.
func NewRegistryCache(c *Client) *RegistryCache {
	return &RegistryCache{rdb: c.Underlying()}
}

func milestoneKey(id string) string    { return keyPrefix + "milestone:" + id }
func ownerKey(projectID string) string { return keyPrefix + "project:" + projectID + ":owner" }

// SetMilestone stores m for ttl.
func (rc *RegistryCache) SetMilestone(ctx context.Context, m domain.Milestone, ttl time.Duration) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal milestone %s: %w", m.ID, err)
	}
	if err := rc.rdb.Set(ctx, milestoneKey(m.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set milestone %s: %w", m.ID, err)
	}
	return nil
}

// GetMilestone returns the cached milestone or domain.ErrNotFound on a miss.
func (rc *RegistryCache) GetMilestone(ctx context.Context, id string) (domain.Milestone, error) {
	data, err := rc.rdb.Get(ctx, milestoneKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Milestone{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Milestone{}, fmt.Errorf("redis: get milestone %s: %w", id, err)
	}
	var m domain.Milestone
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Milestone{}, fmt.Errorf("redis: unmarshal milestone %s: %w", id, err)
	}
	return m, nil
}

// SetOwner stores the owner of projectID for ttl.
func (rc *RegistryCache) SetOwner(ctx context.Context, projectID string, owner common.Address, ttl time.Duration) error {
	if err := rc.rdb.Set(ctx, ownerKey(projectID), owner.Hex(), ttl).Err(); err != nil {
		return fmt.Errorf("redis: set owner %s: %w", projectID, err)
	}
	return nil
}

// GetOwner returns the cached owner or domain.ErrNotFound on a miss.
func (rc *RegistryCache) GetOwner(ctx context.Context, projectID string) (common.Address, error) {
	hex, err := rc.rdb.Get(ctx, ownerKey(projectID)).Result()
	if errors.Is(err, redis.Nil) {
		return common.Address{}, domain.ErrNotFound
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("redis: get owner %s: %w", projectID, err)
	}
	return common.HexToAddress(hex), nil
}

// Invalidate drops the cached milestone.
func (rc *RegistryCache) Invalidate(ctx context.Context, milestoneID string) error {
	if err := rc.rdb.Del(ctx, milestoneKey(milestoneID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate milestone %s: %w", milestoneID, err)
	}
	return nil
}

var _ domain.RegistryCache = (*RegistryCache)(nil)
