package storage

import (
	"context"
	"fmt"
	"time"

	"chatwave/global"
	"chatwave/logger"
	"chatwave/module/presence/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const mgetBatch = 500

// PresenceCache keeps user:last_online:<id> keys in Redis.
// Value: "2006-01-02 15:04:05" UTC, TTL bounds how long a user stays in the fast path.
type PresenceCache struct {
	rdb       *redis.Client
	ttl       time.Duration
	scanCount int64
}

func NewPresenceCache(rdb *redis.Client, ttl time.Duration, scanCount int64) *PresenceCache {
	if scanCount <= 0 {
		scanCount = 500
	}
	return &PresenceCache{rdb: rdb, ttl: ttl, scanCount: scanCount}
}

// Set overwrites the user's last-seen value and renews the TTL.
func (c *PresenceCache) Set(ctx context.Context, userID int64, at time.Time) error {
	return c.rdb.Set(ctx, global.LastOnlineKey(userID), at.UTC().Format(model.CacheLayout), c.ttl).Err()
}

// Get reads all ids with one MGET; ids without a live key are absent from the result.
func (c *PresenceCache) Get(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
	out := make(map[int64]time.Time, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = global.LastOnlineKey(id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence mget: %w", err)
	}
	for i, v := range vals {
		if t, ok := parseCached(keys[i], v); ok {
			out[ids[i]] = t
		}
	}
	return out, nil
}

// Snapshot walks every presence key with SCAN and reads them in MGET batches.
func (c *PresenceCache) Snapshot(ctx context.Context) (map[int64]time.Time, error) {
	out := make(map[int64]time.Time)
	iter := c.rdb.Scan(ctx, 0, global.LastOnlinePrefix+"*", c.scanCount).Iterator()

	batch := make([]string, 0, mgetBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		vals, err := c.rdb.MGet(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("presence mget: %w", err)
		}
		for i, v := range vals {
			id, ok := global.UserIDFromLastOnlineKey(batch[i])
			if !ok {
				continue
			}
			if t, ok := parseCached(batch[i], v); ok {
				out[id] = t
			}
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == mgetBatch {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("presence scan: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseCached accepts a MGET slot; nil (expired between SCAN and MGET) is a miss.
func parseCached(key string, v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(model.CacheLayout, s, time.UTC)
	if err != nil {
		logger.Warn("bad presence value", zap.String("key", key), zap.String("value", s))
		return time.Time{}, false
	}
	return t, true
}
