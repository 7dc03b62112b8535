package live

import (
	"context"
	"sync"
	"time"

	"chatwave/module/presence/model"
	unreadmodel "chatwave/module/unread/model"
	"chatwave/service/bus"
	"chatwave/service/metrics"
)

type ManagerConf struct {
	PingPeriod  time.Duration // 服务端 ping 周期
	PongWait    time.Duration // 读超时，收到 pong 后续期
	WriteWait   time.Duration
	AuthTimeout time.Duration // unread 会话等待首条 {"token"} 的时间
	MaxRetries  uint64        // 订阅断开后的重订阅次数
	RetryBase   time.Duration
}

func (c *ManagerConf) norm() {
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
}

// Directory is the membership view sessions derive their scope from.
type Directory interface {
	UserExists(ctx context.Context, id int64) (bool, error)
	Recipients(ctx context.Context, userID int64) ([]int64, error)
	Conversations(ctx context.Context, userID int64) ([]int64, error)
}

type PresenceReader interface {
	ReadSeen(ctx context.Context, ids []int64) ([]model.Seen, error)
}

type UnreadFeed interface {
	List(ctx context.Context, userID int64) ([]unreadmodel.Entry, error)
	MarkDelivered(ctx context.Context, ids []int64) error
}

// Registry mirrors ACTIVE sessions outside the process. Optional.
type Registry interface {
	Register(ctx context.Context, userID int64, sessionID, flavor string) error
	// Heartbeat reports false when the entry expired and must be registered again.
	Heartbeat(ctx context.Context, userID int64, sessionID string) (bool, error)
	Unregister(ctx context.Context, userID int64, sessionID string) error
}

// Authenticator maps a bearer token to a user id.
type Authenticator func(token string) (int64, error)

type Deps struct {
	Bus       bus.Bus
	Directory Directory
	Presence  PresenceReader
	Unread    UnreadFeed
	Auth      Authenticator
	Registry  Registry
	Metrics   *metrics.Metrics
}

// Manager owns every live session of the process.
type Manager struct {
	conf ManagerConf
	deps Deps

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	bySnow map[string]*Session
	byUser map[int64]map[string]*Session
}

func NewManager(conf ManagerConf, deps Deps) *Manager {
	conf.norm()
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		conf:   conf,
		deps:   deps,
		base:   base,
		cancel: cancel,
		bySnow: make(map[string]*Session),
		byUser: make(map[int64]map[string]*Session),
	}
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySnow[s.id] = s
	set, ok := m.byUser[s.userID]
	if !ok {
		set = make(map[string]*Session)
		m.byUser[s.userID] = set
	}
	set[s.id] = s
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bySnow, s.id)
	if set, ok := m.byUser[s.userID]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(m.byUser, s.userID)
		}
	}
}

// Count is the number of ACTIVE sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow)
}

// UserSessions reports the ACTIVE sessions of one user.
func (m *Manager) UserSessions(userID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID])
}

// Online counts this node's ACTIVE sessions per user.
func (m *Manager) Online(_ context.Context, ids []int64) (map[int64]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]int, len(ids))
	for _, id := range ids {
		out[id] = len(m.byUser[id])
	}
	return out, nil
}

// Close ends every session with 1001 and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}
