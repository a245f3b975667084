// Package repository implements data persistence adapters
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"incentive-hub/internal/core/ports"
)

// Ensure RedisRepository implements UnreadCache
var _ ports.UnreadCache = (*RedisRepository)(nil)

// RedisRepository caches unread-message counts with a TTL so the frontend's
// badge polling does not hit MariaDB on every request
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository instance
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

// Get returns the cached count and whether it was present
func (r *RedisRepository) Get(ctx context.Context, principalID string) (int, bool, error) {
	key := buildUnreadKey(principalID)

	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		slog.Error("Failed to read unread cache",
			"error", err,
			"principal_id", principalID,
		)
		return 0, false, fmt.Errorf("read unread cache: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		// Corrupt entry, treat as a miss
		return 0, false, nil
	}
	return count, true, nil
}

// Set stores the count with a TTL
func (r *RedisRepository) Set(ctx context.Context, principalID string, count int, ttl time.Duration) error {
	key := buildUnreadKey(principalID)

	if err := r.client.Set(ctx, key, count, ttl).Err(); err != nil {
		slog.Error("Failed to write unread cache",
			"error", err,
			"principal_id", principalID,
		)
		return fmt.Errorf("write unread cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached counts for the given principals. Called after
// a send or mark-read so stale badges last at most one poll cycle.
func (r *RedisRepository) Invalidate(ctx context.Context, principalIDs ...string) error {
	if len(principalIDs) == 0 {
		return nil
	}

	keys := make([]string, len(principalIDs))
	for i, id := range principalIDs {
		keys[i] = buildUnreadKey(id)
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		slog.Error("Failed to invalidate unread cache", "error", err)
		return fmt.Errorf("invalidate unread cache: %w", err)
	}
	return nil
}

// buildUnreadKey constructs the Redis key for a principal's unread count
func buildUnreadKey(principalID string) string {
	return fmt.Sprintf("unread:%s", principalID)
}
