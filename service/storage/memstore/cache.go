package memstore

import (
	"context"
	"sync"
	"time"
)

type cached struct {
	at      time.Time
	expires time.Time
}

// PresenceCache is the in-process counterpart of storage.PresenceCache,
// values are truncated to seconds the same way.
type PresenceCache struct {
	mu   sync.RWMutex
	ttl  time.Duration
	now  func() time.Time
	data map[int64]cached

	// Reads counts Get calls, tests assert on it.
	Reads int
}

func NewPresenceCache(ttl time.Duration, now func() time.Time) *PresenceCache {
	if now == nil {
		now = time.Now
	}
	return &PresenceCache{ttl: ttl, now: now, data: make(map[int64]cached)}
}

func (c *PresenceCache) Set(_ context.Context, userID int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[userID] = cached{at: at.UTC().Truncate(time.Second), expires: c.now().Add(c.ttl)}
	return nil
}

func (c *PresenceCache) Get(_ context.Context, ids []int64) (map[int64]time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reads++
	now := c.now()
	out := make(map[int64]time.Time, len(ids))
	for _, id := range ids {
		if v, ok := c.data[id]; ok && now.Before(v.expires) {
			out[id] = v.at
		}
	}
	return out, nil
}

func (c *PresenceCache) Snapshot(_ context.Context) (map[int64]time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	out := make(map[int64]time.Time, len(c.data))
	for id, v := range c.data {
		if now.Before(v.expires) {
			out[id] = v.at
		}
	}
	return out, nil
}
