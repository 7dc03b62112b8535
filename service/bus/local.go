package bus

import (
	"context"
	"sync"

	"chatwave/service/metrics"

	"github.com/golang/glog"
)

// Local is an in-process bus for single-node runs and tests.
type Local struct {
	mu      sync.RWMutex
	topics  map[string]map[*subscription]struct{}
	closed  bool
	down    bool
	metrics *metrics.Metrics
}

func NewLocal(m *metrics.Metrics) *Local {
	return &Local{topics: make(map[string]map[*subscription]struct{}), metrics: m}
}

func (b *Local) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		countPublish(b.metrics, topic, ErrClosed)
		return ErrClosed
	}
	subs := make([]*subscription, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for _, s := range subs {
		if ctx.Err() != nil {
			break
		}
		s.deliver(msg)
	}
	glog.V(2).Infof("[bus/local] publish topic=%s subscribers=%d", topic, len(subs))
	countPublish(b.metrics, topic, nil)
	return nil
}

func (b *Local) Subscribe(_ context.Context, topics ...string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.down {
		return nil, ErrDropped
	}

	var s *subscription
	s = newSubscription(func() error {
		b.detach(s, topics)
		return nil
	})
	for _, t := range topics {
		set, ok := b.topics[t]
		if !ok {
			set = make(map[*subscription]struct{})
			b.topics[t] = set
		}
		set[s] = struct{}{}
	}
	return s, nil
}

func (b *Local) detach(s *subscription, topics []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.topics[t], s)
		if len(b.topics[t]) == 0 {
			delete(b.topics, t)
		}
	}
}

// Subscribers reports how many live subscriptions listen on topic.
func (b *Local) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Interrupt drops every live subscription, as a broker restart would. While
// down is true new subscriptions are refused.
func (b *Local) Interrupt(down bool) {
	b.mu.Lock()
	b.down = down
	var all []*subscription
	for _, set := range b.topics {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.Unlock()
	for _, s := range all {
		s.drop(ErrDropped)
	}
}

// SetDown toggles whether Subscribe is refused, without touching live ones.
func (b *Local) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *Local) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Interrupt(true)
	return nil
}
