package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"chatwave/global"
	"chatwave/service/metrics"

	"github.com/golang/glog"
	"github.com/nats-io/nats.go"
)

// Nats maps topics onto core NATS subjects; no JetStream, so delivery stays
// at-most-once like the other drivers.
type Nats struct {
	nc      *nats.Conn
	metrics *metrics.Metrics

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func NewNats(cfg global.NatsConfig, m *metrics.Metrics) (*Nats, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	b := &Nats{metrics: m, subs: make(map[*subscription]struct{})}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			glog.Warningf("[bus/nats] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			glog.Infof("[bus/nats] reconnected to %s", nc.ConnectedUrl())
			b.reconnected()
		}),
		nats.ClosedHandler(func(*nats.Conn) { b.dropAll(ErrClosed) }),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	b.nc = nc
	return b, nil
}

func (b *Nats) Publish(_ context.Context, topic string, payload []byte) error {
	err := b.nc.Publish(topic, payload)
	countPublish(b.metrics, topic, err)
	if err == nil {
		glog.V(2).Infof("[bus/nats] publish subject=%s", topic)
	}
	return err
}

func (b *Nats) Subscribe(_ context.Context, topics ...string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	var (
		s    *subscription
		subs = make([]*nats.Subscription, 0, len(topics))
	)
	s = newSubscription(func() error {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		var first error
		for _, ns := range subs {
			if err := ns.Unsubscribe(); err != nil && first == nil && !errors.Is(err, nats.ErrConnectionClosed) {
				first = err
			}
		}
		return first
	})

	cb := func(m *nats.Msg) {
		s.deliver(Message{Topic: m.Subject, Payload: append([]byte(nil), m.Data...)})
	}
	for _, t := range topics {
		ns, err := b.nc.Subscribe(t, cb)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		_ = ns.SetPendingLimits(1_000_000, 64*1024*1024)
		subs = append(subs, ns)
	}
	// make sure the server registered interest before returning
	if err := b.nc.Flush(); err != nil {
		_ = s.Close()
		return nil, err
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// reconnected ends every open subscription. Core subjects lose whatever was
// published while disconnected, so subscribers must resubscribe and rebuild.
func (b *Nats) reconnected() { b.dropAll(ErrDropped) }

func (b *Nats) dropAll(cause error) {
	b.mu.Lock()
	all := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		all = append(all, s)
	}
	b.mu.Unlock()
	for _, s := range all {
		s.drop(cause)
	}
}

func (b *Nats) Close() error {
	if b.nc == nil {
		return nil
	}
	b.dropAll(ErrClosed)
	return b.nc.Drain()
}
