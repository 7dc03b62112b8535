package bus

import (
	"context"
	"testing"
	"time"

	"chatwave/global"
	"chatwave/service/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, s Subscription) Message {
	t.Helper()
	select {
	case m, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func closed(t *testing.T, s Subscription) {
	t.Helper()
	select {
	case _, ok := <-s.C():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

// exercise runs the same contract against every backend.
func exercise(t *testing.T, b Bus) {
	ctx := context.Background()

	_, err := b.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrNoTopics)

	// nobody listening: dropped, not buffered
	require.NoError(t, b.Publish(ctx, "t1", []byte("lost")))

	s, err := b.Subscribe(ctx, "t1", "t2")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "t1", []byte("a")))
	require.NoError(t, b.Publish(ctx, "t2", []byte("b")))
	require.NoError(t, b.Publish(ctx, "t3", []byte("other")))

	m := next(t, s)
	assert.Equal(t, Message{Topic: "t1", Payload: []byte("a")}, m)
	m = next(t, s)
	assert.Equal(t, Message{Topic: "t2", Payload: []byte("b")}, m)

	require.NoError(t, s.Close())
	closed(t, s)
	assert.NoError(t, s.Err())
	assert.NoError(t, s.Close())
}

func TestLocalBus(t *testing.T) {
	m := metrics.New()
	b := NewLocal(m)
	exercise(t, b)
	assert.Equal(t, 0, b.Subscribers("t1"))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BusPublished.WithLabelValues("t1", "ok"))+
		testutil.ToFloat64(m.BusPublished.WithLabelValues("t2", "ok"))+
		testutil.ToFloat64(m.BusPublished.WithLabelValues("t3", "ok")))
}

func TestLocalInterrupt(t *testing.T) {
	b := NewLocal(nil)
	ctx := context.Background()
	s, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)

	b.Interrupt(true)
	closed(t, s)
	assert.ErrorIs(t, s.Err(), ErrDropped)

	_, err = b.Subscribe(ctx, "t")
	assert.Error(t, err)

	b.SetDown(false)
	s, err = b.Subscribe(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "t", []byte("x")))
	assert.Equal(t, "x", string(next(t, s).Payload))

	require.NoError(t, b.Close())
	closed(t, s)
	assert.ErrorIs(t, b.Publish(ctx, "t", nil), ErrClosed)
}

func TestRedisBus(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = rdb.Close() })

	b := NewRedis(rdb, nil)
	exercise(t, b)
}

func TestRedisBusClose(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = rdb.Close() })

	b := NewRedis(rdb, nil)
	s, err := b.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	require.NoError(t, b.Close())
	closed(t, s)
	assert.ErrorIs(t, s.Err(), ErrClosed)
}

func TestRedisBusDropsOnConnectionLoss(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	b := NewRedis(rdb, nil)
	s, err := b.Subscribe(context.Background(), "t")
	require.NoError(t, err)

	mr.Close()
	closed(t, s)
	assert.ErrorIs(t, s.Err(), ErrDropped)
}

func TestNatsReconnectDropsSubscriptions(t *testing.T) {
	b := &Nats{subs: make(map[*subscription]struct{})}
	s := newSubscription(nil)
	b.subs[s] = struct{}{}

	b.reconnected()
	closed(t, s)
	assert.ErrorIs(t, s.Err(), ErrDropped)
}

func TestNewSelectsDriver(t *testing.T) {
	conf := &global.Config{Bus: global.BusConfig{Driver: "local"}}
	b, err := New(conf, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, b)

	conf.Bus.Driver = "redis"
	_, err = New(conf, nil, nil)
	assert.Error(t, err)

	conf.Bus.Driver = "kafka"
	_, err = New(conf, nil, nil)
	assert.ErrorIs(t, err, ErrNotDriver)
}
