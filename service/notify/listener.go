package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatwave/logger"
	"chatwave/service/metrics"
	"chatwave/tools/safe"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Handler processes one decoded event. Errors are logged by the listener.
type Handler func(ctx context.Context, ev Event) error

type ListenerConf struct {
	// MaxRetries is the number of consecutive failed connection attempts
	// tolerated before the listener gives up. Reset after every LISTEN.
	MaxRetries  uint64
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c ListenerConf) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.BaseBackoff > 0 {
		b.InitialInterval = c.BaseBackoff
	}
	if c.MaxBackoff > 0 {
		b.MaxInterval = c.MaxBackoff
	}
	b.MaxElapsedTime = 0
	return b
}

// Listener keeps one LISTEN subscription alive for the life of Run.
type Listener struct {
	kind    Kind
	dialer  Dialer
	handle  Handler
	conf    ListenerConf
	health  *Health
	metrics *metrics.Metrics
	log     *zap.Logger

	inflight sync.WaitGroup
}

func NewListener(kind Kind, dialer Dialer, handle Handler, conf ListenerConf, health *Health, m *metrics.Metrics) *Listener {
	if health == nil {
		health = NewHealth()
	}
	return &Listener{
		kind:    kind,
		dialer:  dialer,
		handle:  handle,
		conf:    conf,
		health:  health,
		metrics: m,
		log:     logger.With(zap.String("channel", kind.Channel())),
	}
}

func (l *Listener) Channel() string { return l.kind.Channel() }

// Run blocks until ctx is done (returns nil) or the retry budget is spent.
// In-flight handlers are awaited before returning.
func (l *Listener) Run(ctx context.Context) error {
	defer l.inflight.Wait()

	channel := l.Channel()
	b := backoff.WithContext(backoff.WithMaxRetries(l.conf.backoff(), l.conf.MaxRetries), ctx)
	l.health.set(channel, StateConnecting, nil)

	for {
		listened, err := l.session(ctx)
		if ctx.Err() != nil {
			l.health.set(channel, StateStopped, nil)
			l.log.Info("listener stopped")
			return nil
		}
		if listened {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			l.health.set(channel, StateFailed, err)
			l.log.Error("listener gave up", zap.Error(err))
			return fmt.Errorf("listener %s: retry budget exhausted: %w", channel, err)
		}

		l.health.set(channel, StateReconnecting, err)
		if l.metrics != nil {
			l.metrics.ListenerReconnects.WithLabelValues(channel).Inc()
		}
		l.log.Warn("listener connection lost, reconnecting", zap.Error(err), zap.Duration("backoff", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			l.health.set(channel, StateStopped, nil)
			return nil
		case <-t.C:
		}
	}
}

// session dials, LISTENs and pumps notifications until the connection breaks.
func (l *Listener) session(ctx context.Context) (listened bool, err error) {
	channel := l.Channel()
	conn, err := l.dialer.Dial(ctx)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(cctx)
	}()

	if err := conn.Listen(ctx, channel); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	l.health.set(channel, StateListening, nil)
	l.setUp(1)
	defer l.setUp(0)
	l.log.Info("listening")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		l.dispatch(ctx, n)
	}
}

func (l *Listener) dispatch(ctx context.Context, n *Notification) {
	ev, err := Decode(l.kind, n.Payload)
	if err != nil {
		l.count("malformed")
		l.log.Warn("drop malformed notification", zap.String("payload", n.Payload), zap.Error(err))
		return
	}

	l.inflight.Add(1)
	safe.Go(func() {
		defer l.inflight.Done()
		if err := l.handle(ctx, ev); err != nil {
			l.count("error")
			l.log.Warn("handler failed", zap.Error(err))
			return
		}
		l.count("ok")
	}, func(error) {
		l.count("panic")
	})
}

func (l *Listener) count(result string) {
	if l.metrics != nil {
		l.metrics.ListenerEvents.WithLabelValues(l.Channel(), result).Inc()
	}
}

func (l *Listener) setUp(v float64) {
	if l.metrics != nil {
		l.metrics.ListenerUp.WithLabelValues(l.Channel()).Set(v)
	}
}
