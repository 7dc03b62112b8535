package bus

import (
	"sync"
)

const subscriptionBuffer = 64

// subscription is the channel plumbing shared by every backend.
type subscription struct {
	ch   chan Message
	done chan struct{}

	mu     sync.RWMutex
	closed bool
	err    error
	once   sync.Once

	// release detaches the subscription from its backend.
	release func() error
}

func newSubscription(release func() error) *subscription {
	return &subscription{
		ch:      make(chan Message, subscriptionBuffer),
		done:    make(chan struct{}),
		release: release,
	}
}

func (s *subscription) C() <-chan Message { return s.ch }

func (s *subscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// deliver blocks until the message is queued or the subscription ends.
func (s *subscription) deliver(m Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- m:
		return true
	case <-s.done:
		return false
	}
}

func (s *subscription) finish(cause error) error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		s.err = cause
		close(s.ch)
		s.mu.Unlock()
		if s.release != nil {
			err = s.release()
		}
	})
	return err
}

func (s *subscription) Close() error { return s.finish(nil) }

// drop ends the subscription from the backend side.
func (s *subscription) drop(cause error) {
	if cause == nil {
		cause = ErrDropped
	}
	_ = s.finish(cause)
}
