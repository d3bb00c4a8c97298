package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// NonceStore implements domain.NonceStore with SET NX so a signed request is
// accepted once across all replicas.
type NonceStore struct {
	rdb *redis.Client
}

// NewNonceStore creates a NonceStore backed by the given Client.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{rdb: c.Underlying()}
}

// Remember implements domain.NonceStore.
func (s *NonceStore) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyPrefix+"nonce:"+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: remember nonce: %w", err)
	}
	return ok, nil
}

var _ domain.NonceStore = (*NonceStore)(nil)
