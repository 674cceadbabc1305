package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"entitlement-api/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// StatusCache caches subscription-status reads in Redis. Entries are
// invalidated whenever an entitlement mutation goes through, so a stale
// read can outlive a mutation by at most the TTL of a racing writer.
// All operations are best-effort; a cache fault never fails a request.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatusCache creates a status cache; a nil client disables caching
func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

func (c *StatusCache) key(userID string) string {
	return fmt.Sprintf("subscription_status:%s", userID)
}

// Get returns the cached status for a user, or ok=false on miss
func (c *StatusCache) Get(ctx context.Context, userID string) (*SubscriptionStatus, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, c.key(userID)).Result()
	if err != nil {
		if err != redis.Nil {
			logging.Errorf("Status cache read failed for user %s: %v", userID, err)
		}
		return nil, false
	}

	var status SubscriptionStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		logging.Errorf("Status cache entry for user %s is corrupt: %v", userID, err)
		return nil, false
	}
	return &status, true
}

// Set stores the status for a user with the configured TTL
func (c *StatusCache) Set(ctx context.Context, userID string, status *SubscriptionStatus) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(status)
	if err != nil {
		logging.Errorf("Failed to marshal status for user %s: %v", userID, err)
		return
	}
	if err := c.client.Set(ctx, c.key(userID), data, c.ttl).Err(); err != nil {
		logging.Errorf("Status cache write failed for user %s: %v", userID, err)
	}
}

// Invalidate drops the cached status after an entitlement mutation
func (c *StatusCache) Invalidate(ctx context.Context, userID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		logging.Errorf("Status cache invalidation failed for user %s: %v", userID, err)
	}
}
