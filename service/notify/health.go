package notify

import (
	"sort"
	"sync"
	"time"
)

// State 单个监听器的运行状态
type State string

const (
	StateConnecting   State = "connecting"
	StateListening    State = "listening"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateStopped      State = "stopped"
)

// ChannelHealth is the externally visible status of one listener.
type ChannelHealth struct {
	Channel    string    `json:"channel"`
	State      State     `json:"state"`
	Reconnects uint64    `json:"reconnects"`
	LastError  string    `json:"last_error,omitempty"`
	Since      time.Time `json:"since"`
}

// Health aggregates listener status for /healthz.
type Health struct {
	mu       sync.RWMutex
	channels map[string]*ChannelHealth
	now      func() time.Time
}

func NewHealth() *Health {
	return &Health{channels: make(map[string]*ChannelHealth), now: time.Now}
}

func (h *Health) entry(channel string) *ChannelHealth {
	c, ok := h.channels[channel]
	if !ok {
		c = &ChannelHealth{Channel: channel}
		h.channels[channel] = c
	}
	return c
}

func (h *Health) set(channel string, s State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.entry(channel)
	if c.State != s {
		c.Since = h.now()
	}
	c.State = s
	if s == StateReconnecting {
		c.Reconnects++
	}
	if err != nil {
		c.LastError = err.Error()
	}
}

// Snapshot returns a copy of every channel status sorted by channel name.
func (h *Health) Snapshot() []ChannelHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ChannelHealth, 0, len(h.channels))
	for _, c := range h.channels {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Healthy is false as soon as one listener has given up.
func (h *Health) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.channels {
		if c.State == StateFailed {
			return false
		}
	}
	return true
}

func (h *Health) State(channel string) State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.channels[channel]; ok {
		return c.State
	}
	return ""
}
