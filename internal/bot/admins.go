package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"groupkeeper/internal/cache"
)

const adminKeyPrefix = "chat:admins:"

// AdminLister fetches the administrator ids of a chat from the platform.
type AdminLister interface {
	ChatAdministrators(ctx context.Context, chatID int64) ([]int64, error)
}

type adminEntry struct {
	ids     []int64
	expires time.Time
}

// AdminCache caches chat administrator lists. With Redis configured the lists are shared
// between instances; otherwise they live in process memory.
type AdminCache struct {
	lister AdminLister
	redis  *cache.Redis
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	local map[int64]adminEntry
	group singleflight.Group
}

// NewAdminCache constructs a cache. redis may be nil.
func NewAdminCache(lister AdminLister, redis *cache.Redis, ttl time.Duration, logger *slog.Logger, now func() time.Time) *AdminCache {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &AdminCache{
		lister: lister,
		redis:  redis,
		ttl:    ttl,
		now:    now,
		logger: logger.With("component", "admin_cache"),
		local:  make(map[int64]adminEntry),
	}
}

// IsAdmin reports whether userID administers chatID. Lookup failures count as not admin.
func (c *AdminCache) IsAdmin(ctx context.Context, chatID, userID int64) bool {
	ids, err := c.Admins(ctx, chatID)
	if err != nil {
		c.logger.Warn("admin lookup failed", "chat_id", chatID, "error", err)
		return false
	}
	return slices.Contains(ids, userID)
}

// Admins returns the cached administrator list of chatID, fetching it on a miss.
func (c *AdminCache) Admins(ctx context.Context, chatID int64) ([]int64, error) {
	if ids, ok := c.cached(ctx, chatID); ok {
		return ids, nil
	}
	key := adminKeyPrefix + strconv.FormatInt(chatID, 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		ids, err := c.lister.ChatAdministrators(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("fetch chat administrators: %w", err)
		}
		c.store(ctx, chatID, ids)
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]int64), nil
}

// Invalidate drops the cached list of chatID.
func (c *AdminCache) Invalidate(ctx context.Context, chatID int64) {
	c.mu.Lock()
	delete(c.local, chatID)
	c.mu.Unlock()
	if c.redis != nil {
		if err := c.redis.Delete(ctx, adminKeyPrefix+strconv.FormatInt(chatID, 10)); err != nil {
			c.logger.Warn("admin cache invalidate failed", "chat_id", chatID, "error", err)
		}
	}
}

// Prune drops expired in-memory lists and returns how many were removed.
func (c *AdminCache) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.local {
		if !now.Before(e.expires) {
			delete(c.local, id)
			removed++
		}
	}
	return removed
}

func (c *AdminCache) cached(ctx context.Context, chatID int64) ([]int64, bool) {
	if c.redis != nil {
		var ids []int64
		ok, err := c.redis.GetJSON(ctx, adminKeyPrefix+strconv.FormatInt(chatID, 10), &ids)
		if err != nil {
			c.logger.Warn("admin cache read failed", "chat_id", chatID, "error", err)
			return nil, false
		}
		return ids, ok
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.local[chatID]
	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	return e.ids, true
}

func (c *AdminCache) store(ctx context.Context, chatID int64, ids []int64) {
	if c.redis != nil {
		if err := c.redis.SetJSON(ctx, adminKeyPrefix+strconv.FormatInt(chatID, 10), ids, c.ttl); err != nil {
			c.logger.Warn("admin cache write failed", "chat_id", chatID, "error", err)
		}
		return
	}
	c.mu.Lock()
	c.local[chatID] = adminEntry{ids: ids, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
