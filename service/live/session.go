package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"chatwave/global"
	"chatwave/logger"
	"chatwave/service/bus"
	"chatwave/service/notify"
	"chatwave/tools/decode"
	"chatwave/tools/ids"
	"chatwave/tools/security"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxInboundFrame = 4096

// flavor is what differs between the presence and the unread session.
type flavor interface {
	name() string
	topics() []string
	// firstMessageAuth allows {"token": "..."} as the first inbound frame.
	firstMessageAuth() bool
	// baseline recomputes the scope from scratch and pushes a full snapshot.
	baseline(ctx context.Context, s *Session) error
	handle(ctx context.Context, s *Session, m bus.Message) error
}

// Session is one websocket connection going through
// CONNECTING → AUTHENTICATING → ACTIVE → CLOSING → CLOSED.
type Session struct {
	id     string
	userID int64
	m      *Manager
	flavor flavor
	conn   *wsConn
	raw    *websocket.Conn
	state  atomic.Int32
	log    *zap.Logger

	subMu sync.Mutex
	sub   bus.Subscription

	pushMu     sync.Mutex
	lastPushed []byte
}

func newSession(m *Manager, f flavor, ws *websocket.Conn) *Session {
	id := ids.GenerateString()
	return &Session{
		id:     id,
		m:      m,
		flavor: f,
		conn:   newWSConn(ws, m.conf.WriteWait),
		raw:    ws,
		log:    logger.With(zap.String("session", id), zap.String("flavor", f.name())),
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug("session state", zap.Stringer("state", st))
}

// LastPushed is the most recent frame sent to the client.
func (s *Session) LastPushed() []byte {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	return s.lastPushed
}

func (s *Session) run(ctx context.Context, r *http.Request) {
	s.setState(StateAuthenticating)
	if reason, ok := s.authenticate(ctx, r); !ok {
		s.finish(reason)
		return
	}
	s.log = s.log.With(zap.Int64("user_id", s.userID))

	s.m.add(s)
	defer s.m.remove(s)
	s.register(ctx)
	defer s.unregister()
	if mt := s.m.deps.Metrics; mt != nil {
		mt.SessionsActive.WithLabelValues(s.flavor.name()).Inc()
		defer mt.SessionsActive.WithLabelValues(s.flavor.name()).Dec()
	}
	s.setState(StateActive)

	cctx, cancel := context.WithCancel(ctx)
	inbound := make(chan closeReason, 1)
	go s.readLoop(inbound)
	go s.pingLoop(cctx, inbound)

	var wg sync.WaitGroup
	consumed := make(chan closeReason, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumed <- s.consume(cctx)
	}()

	var why closeReason
	select {
	case why = <-inbound:
	case why = <-consumed:
	case <-ctx.Done():
		why = closeGoingAway
	}

	s.setState(StateClosing)
	cancel()
	wg.Wait()
	s.unsubscribe()
	s.finish(why)
}

// finish sends the close frame, closes the socket and enters CLOSED.
func (s *Session) finish(why closeReason) {
	s.conn.shutdown(why)
	s.setState(StateClosed)
	if mt := s.m.deps.Metrics; mt != nil {
		mt.SessionCloses.WithLabelValues(s.flavor.name(), strconv.Itoa(why.code)).Inc()
	}
	s.log.Info("session closed", zap.Int("code", why.code), zap.String("reason", why.text))
}

func (s *Session) authenticate(ctx context.Context, r *http.Request) (closeReason, bool) {
	token := security.BearerToken(r)
	if token == "" && s.flavor.firstMessageAuth() {
		_ = s.raw.SetReadDeadline(time.Now().Add(s.m.conf.AuthTimeout))
		s.raw.SetReadLimit(maxInboundFrame)
		_, data, err := s.raw.ReadMessage()
		if err != nil {
			s.log.Info("no token before auth timeout", zap.Error(err))
			return closeBadToken, false
		}
		var first struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(data, &first); err != nil {
			return closeMalformed, false
		}
		token = first.Token
	}
	if token == "" {
		return closeBadToken, false
	}

	uid, err := s.m.deps.Auth(token)
	if err != nil {
		s.log.Info("token rejected", zap.Error(err))
		return closeBadToken, false
	}
	exists, err := s.m.deps.Directory.UserExists(ctx, uid)
	if err != nil {
		s.log.Error("user lookup failed", zap.Error(err))
		return closeInternal, false
	}
	if !exists {
		return closeUserGone, false
	}
	s.userID = uid
	return closeReason{}, true
}

// readLoop only validates: every inbound frame must be a JSON object. Its
// content never changes the watch scope.
func (s *Session) readLoop(out chan<- closeReason) {
	report := func(r closeReason) {
		select {
		case out <- r:
		default:
		}
	}
	s.raw.SetReadLimit(maxInboundFrame)
	_ = s.raw.SetReadDeadline(time.Now().Add(s.m.conf.PongWait))
	s.raw.SetPongHandler(func(string) error {
		return s.raw.SetReadDeadline(time.Now().Add(s.m.conf.PongWait))
	})

	for {
		mt, data, err := s.raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Debug("read error", zap.Error(err))
			}
			report(closeNormal)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
			sample := data
			if len(sample) > 64 {
				sample = sample[:64]
			}
			s.log.Info("malformed inbound frame", zap.ByteString("sample", sample))
			report(closeMalformed)
			return
		}
	}
}

// pingLoop keeps the socket alive and re-checks the account on every tick,
// so a viewer deleted while the bus announcement was lost still gets closed.
func (s *Session) pingLoop(ctx context.Context, out chan<- closeReason) {
	t := time.NewTicker(s.m.conf.PingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.conn.ping(); err != nil {
				return
			}
			s.heartbeat(ctx)
			exists, err := s.m.deps.Directory.UserExists(ctx, s.userID)
			if err != nil {
				s.log.Warn("user re-check failed", zap.Error(err))
				continue
			}
			if !exists {
				select {
				case out <- closeUserGone:
				default:
				}
				return
			}
		}
	}
}

const registryTimeout = 2 * time.Second

func (s *Session) register(ctx context.Context) {
	reg := s.m.deps.Registry
	if reg == nil {
		return
	}
	if err := reg.Register(ctx, s.userID, s.id, s.flavor.name()); err != nil {
		s.log.Warn("session register failed", zap.Error(err))
	}
}

func (s *Session) heartbeat(ctx context.Context) {
	reg := s.m.deps.Registry
	if reg == nil {
		return
	}
	alive, err := reg.Heartbeat(ctx, s.userID, s.id)
	if err != nil {
		s.log.Warn("session heartbeat failed", zap.Error(err))
		return
	}
	if !alive {
		s.register(ctx)
	}
}

// unregister runs after the session context is gone.
func (s *Session) unregister() {
	reg := s.m.deps.Registry
	if reg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if err := reg.Unregister(ctx, s.userID, s.id); err != nil {
		s.log.Warn("session unregister failed", zap.Error(err))
	}
}

// consume subscribes, pushes the baseline and applies bus events until ctx
// is done or a close reason comes up. A dropped subscription is re-opened
// and followed by a fresh baseline, since the bus keeps no history.
func (s *Session) consume(ctx context.Context) closeReason {
	for {
		sub, err := s.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return closeNormal
			}
			s.log.Warn("bus subscription exhausted", zap.Error(err))
			return closeBusDown
		}
		s.setSub(sub)

		if err := s.flavor.baseline(ctx, s); err != nil {
			return s.reasonFor(ctx, err)
		}

		reason, dropped := s.pump(ctx, sub)
		if !dropped {
			return reason
		}
		s.log.Warn("bus subscription dropped, resubscribing", zap.Error(sub.Err()))
	}
}

func (s *Session) pump(ctx context.Context, sub bus.Subscription) (closeReason, bool) {
	for {
		select {
		case <-ctx.Done():
			return closeNormal, false
		case m, ok := <-sub.C():
			if !ok {
				if ctx.Err() != nil {
					return closeNormal, false
				}
				return closeReason{}, true
			}
			if m.Topic == global.TopicUserDeleted {
				if id, ok := parseUserID(m.Payload); ok && id == s.userID {
					return closeUserGone, false
				}
				continue
			}
			if err := s.flavor.handle(ctx, s, m); err != nil {
				var ce *closeError
				if errors.As(err, &ce) {
					return ce.reason, false
				}
				if ctx.Err() != nil {
					return closeNormal, false
				}
				s.log.Warn("event handling failed", zap.String("topic", m.Topic), zap.Error(err))
			}
		}
	}
}

func (s *Session) reasonFor(ctx context.Context, err error) closeReason {
	var ce *closeError
	switch {
	case errors.As(err, &ce):
		return ce.reason
	case ctx.Err() != nil:
		return closeNormal
	default:
		s.log.Error("baseline failed", zap.Error(err))
		return closeInternal
	}
}

func (s *Session) subscribe(ctx context.Context) (bus.Subscription, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.m.conf.RetryBase
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, s.m.conf.MaxRetries), ctx)

	var sub bus.Subscription
	err := backoff.RetryNotify(func() error {
		var err error
		sub, err = s.m.deps.Bus.Subscribe(ctx, s.topics()...)
		return err
	}, b, func(err error, wait time.Duration) {
		s.log.Warn("subscribe failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
	})
	return sub, err
}

// topics is the flavour's topics plus the account deletion feed every
// session listens to.
func (s *Session) topics() []string {
	return append(s.flavor.topics(), global.TopicUserDeleted)
}

func (s *Session) setSub(sub bus.Subscription) {
	s.subMu.Lock()
	old := s.sub
	s.sub = sub
	s.subMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (s *Session) unsubscribe() { s.setSub(nil) }

// push sends one frame; kind is "snapshot" or "delta".
func (s *Session) push(kind string, v any) error {
	data, err := s.conn.writeJSON(v)
	if err != nil {
		return closeWith(closePeerGone, err)
	}
	s.pushMu.Lock()
	s.lastPushed = data
	s.pushMu.Unlock()
	if mt := s.m.deps.Metrics; mt != nil {
		mt.SessionPushes.WithLabelValues(s.flavor.name(), kind).Inc()
	}
	return nil
}

// scope derives the watch sets from the membership table.
func (s *Session) scope(ctx context.Context) (watchState, error) {
	recipients, err := s.m.deps.Directory.Recipients(ctx, s.userID)
	if err != nil {
		return watchState{}, err
	}
	conversations, err := s.m.deps.Directory.Conversations(ctx, s.userID)
	if err != nil {
		return watchState{}, err
	}
	return watchState{recipients: newIDSet(recipients), conversations: newIDSet(conversations)}, nil
}

// membershipChange decodes a recipients-change event and reports whether it
// touches this viewer. A change about the viewer re-checks the account.
func (s *Session) membershipChange(ctx context.Context, payload []byte, w *watchState) (bool, error) {
	ev, err := decode.JSON[notify.MembershipChanged](string(payload))
	if err != nil {
		s.log.Warn("bad recipients event", zap.ByteString("payload", payload), zap.Error(err))
		return false, nil
	}
	if !w.implicates(s.userID, ev.UserID, ev.ConversationID) {
		return false, nil
	}
	if ev.UserID == s.userID {
		ok, err := s.m.deps.Directory.UserExists(ctx, s.userID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, closeWith(closeUserGone, nil)
		}
	}
	return true, nil
}

func parseUserID(payload []byte) (int64, bool) {
	id, err := strconv.ParseInt(string(payload), 10, 64)
	return id, err == nil
}
