package bus

import (
	"context"
	"fmt"
	"sync"

	"chatwave/service/metrics"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

// Redis publishes with PUBLISH and subscribes with SUBSCRIBE on a shared client.
type Redis struct {
	rdb     *redis.Client
	metrics *metrics.Metrics

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func NewRedis(rdb *redis.Client, m *metrics.Metrics) *Redis {
	return &Redis{rdb: rdb, metrics: m, subs: make(map[*subscription]struct{})}
}

func (b *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	n, err := b.rdb.Publish(ctx, topic, payload).Result()
	countPublish(b.metrics, topic, err)
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	glog.V(2).Infof("[bus/redis] publish topic=%s receivers=%d", topic, n)
	return nil
}

func (b *Redis) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	ps := b.rdb.Subscribe(ctx, topics...)
	// Receive waits for the subscribe confirmation so no message published
	// after Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %v: %w", topics, err)
	}

	rctx, stop := context.WithCancel(context.Background())
	var s *subscription
	s = newSubscription(func() error {
		stop()
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		return ps.Close()
	})
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	// ps.Channel would reconnect behind our back and hide the gap, so read
	// directly and end the subscription on the first connection error.
	go func() {
		for {
			m, err := ps.ReceiveMessage(rctx)
			if err != nil {
				if rctx.Err() == nil {
					glog.Warningf("[bus/redis] subscription %v lost: %v", topics, err)
				}
				s.drop(fmt.Errorf("%w: %v", ErrDropped, err))
				return
			}
			if !s.deliver(Message{Topic: m.Channel, Payload: []byte(m.Payload)}) {
				return
			}
		}
	}()
	return s, nil
}

// Close ends every subscription opened through this bus; the redis client
// itself is owned by the caller.
func (b *Redis) Close() error {
	b.mu.Lock()
	all := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		all = append(all, s)
	}
	b.mu.Unlock()
	for _, s := range all {
		s.drop(ErrClosed)
	}
	return nil
}
