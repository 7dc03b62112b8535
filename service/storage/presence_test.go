package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*PresenceCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewPresenceCache(rdb, time.Hour, 2), mr
}

func TestPresenceSetGet(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 20, 30, 999, time.FixedZone("x", 3600))

	require.NoError(t, c.Set(ctx, 7, at))
	v, err := mr.Get("user:last_online:7")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01 09:20:30", v)
	assert.Equal(t, time.Hour, mr.TTL("user:last_online:7"))

	got, err := c.Get(ctx, []int64{9, 7})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[7].Equal(time.Date(2024, 5, 1, 9, 20, 30, 0, time.UTC)))

	mr.FastForward(time.Hour + time.Second)
	got, err = c.Get(ctx, []int64{7})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPresenceSnapshot(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 7; i++ {
		require.NoError(t, c.Set(ctx, i, base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, mr.Set("user:last_online:bogus", "2024-05-01 00:00:00"))
	require.NoError(t, mr.Set("user:last_online:8", "not a time"))
	require.NoError(t, mr.Set("other:1", "x"))

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 7)
	assert.True(t, snap[3].Equal(base.Add(3*time.Minute)))
}

func TestPresenceGetEmpty(t *testing.T) {
	c, _ := newCache(t)
	got, err := c.Get(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
