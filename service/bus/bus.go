package bus

import (
	"context"
	"errors"
	"fmt"

	"chatwave/global"
	"chatwave/service/metrics"

	"github.com/redis/go-redis/v9"
)

// Message 总线上的一条消息
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription delivers messages for its topics until Close or until the
// backend drops it, in both cases C is closed.
type Subscription interface {
	C() <-chan Message
	// Err is non-nil when the backend ended the subscription.
	Err() error
	Close() error
}

// Bus is an at-most-once publish/subscribe broker. Nothing is buffered for
// absent subscribers.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
	Close() error
}

var (
	ErrClosed    = errors.New("bus closed")
	ErrNoTopics  = errors.New("subscribe without topics")
	ErrDropped   = errors.New("subscription dropped by backend")
	ErrNotDriver = errors.New("unknown bus driver")
)

// New builds the backend selected by conf.Bus.Driver. rdb is only used by
// the redis driver.
func New(conf *global.Config, rdb *redis.Client, m *metrics.Metrics) (Bus, error) {
	switch conf.Bus.Driver {
	case "redis", "":
		if rdb == nil {
			return nil, fmt.Errorf("redis bus: client missing")
		}
		return NewRedis(rdb, m), nil
	case "nats":
		return NewNats(conf.Nats, m)
	case "local":
		return NewLocal(m), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrNotDriver, conf.Bus.Driver)
	}
}

func countPublish(m *metrics.Metrics, topic string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BusPublished.WithLabelValues(topic, result).Inc()
}
