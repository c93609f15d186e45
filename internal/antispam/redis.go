package antispam

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"groupkeeper/internal/cache"
)

const windowKeyPrefix = "antispam:window:"

// RedisTracker keeps rate windows in Redis sorted sets so several bot instances share them.
type RedisTracker struct {
	redis *cache.Redis
	now   func() time.Time
}

// NewRedisTracker constructs a tracker on top of the shared Redis client.
func NewRedisTracker(r *cache.Redis, now func() time.Time) *RedisTracker {
	if now == nil {
		now = time.Now
	}
	return &RedisTracker{redis: r, now: now}
}

// RecordAndCheck has the same contract as MemoryTracker.RecordAndCheck.
func (t *RedisTracker) RecordAndCheck(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("%s%d", windowKeyPrefix, userID)
	n, err := t.redis.SlideWindow(ctx, key, uuid.NewString(), t.now(), window)
	if err != nil {
		return false, fmt.Errorf("record message: %w", err)
	}
	if n > int64(limit) {
		if err := t.redis.Delete(ctx, key); err != nil {
			return true, fmt.Errorf("clear window: %w", err)
		}
		return true, nil
	}
	return false, nil
}
