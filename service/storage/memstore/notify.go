package memstore

import (
	"context"
	"errors"
	"sync"

	"chatwave/service/notify"
)

var (
	errConnClosed = errors.New("memstore: connection closed")
	errRefused    = errors.New("memstore: connection refused")
)

type hub struct {
	mu     sync.Mutex
	conns  map[*conn]struct{}
	refuse bool
}

func newHub() *hub { return &hub{conns: make(map[*conn]struct{})} }

func (h *hub) dial(ctx context.Context) (*conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refuse {
		return nil, errRefused
	}
	c := &conn{
		hub:      h,
		channels: make(map[string]struct{}),
		queue:    make(chan *notify.Notification, 256),
		closed:   make(chan struct{}),
	}
	h.conns[c] = struct{}{}
	return c, nil
}

func (h *hub) publish(channel, payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.offer(channel, payload)
	}
}

func (h *hub) dropAll() {
	h.mu.Lock()
	all := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		all = append(all, c)
	}
	h.mu.Unlock()
	for _, c := range all {
		c.shut()
	}
}

func (h *hub) setRefuse(v bool) {
	h.mu.Lock()
	h.refuse = v
	h.mu.Unlock()
}

func (h *hub) listening(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.conns {
		select {
		case <-c.closed:
			continue
		default:
		}
		c.mu.Lock()
		if _, ok := c.channels[channel]; ok {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

func (h *hub) remove(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// conn mimics a dedicated LISTEN connection: FIFO per connection, nothing
// is kept for channels it does not listen on.
type conn struct {
	hub      *hub
	mu       sync.Mutex
	channels map[string]struct{}
	queue    chan *notify.Notification
	closed   chan struct{}
	once     sync.Once
}

func (c *conn) offer(channel, payload string) {
	c.mu.Lock()
	_, ok := c.channels[channel]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-c.closed:
	case c.queue <- &notify.Notification{Channel: channel, Payload: payload}:
	default:
		// a real server would drop the backend here too
		c.shut()
	}
}

func (c *conn) Listen(_ context.Context, channel string) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *conn) WaitForNotification(ctx context.Context) (*notify.Notification, error) {
	select {
	case n := <-c.queue:
		return n, nil
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errConnClosed
	case n := <-c.queue:
		return n, nil
	}
}

func (c *conn) Close(context.Context) error {
	c.shut()
	return nil
}

func (c *conn) shut() {
	c.once.Do(func() {
		close(c.closed)
		go c.hub.remove(c)
	})
}
