package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatwave/global"
	presencemodel "chatwave/module/presence/model"
	presencesvc "chatwave/module/presence/service"
	unreadmodel "chatwave/module/unread/model"
	unreadsvc "chatwave/module/unread/service"
	"chatwave/service/bus"
	"chatwave/service/media"
	"chatwave/service/metrics"
	"chatwave/service/notify"
	"chatwave/service/storage/memstore"
	"chatwave/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *memstore.Store
	bus      *bus.Local
	presence *presencesvc.Service
	unread   *unreadsvc.Service
	mgr      *Manager
	metrics  *metrics.Metrics
	reg      *fakeRegistry
	srv      *httptest.Server
	opts     security.Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{
		store:   memstore.New(),
		bus:     bus.NewLocal(nil),
		metrics: metrics.New(),
		reg:     &fakeRegistry{live: make(map[string]string)},
		opts:    security.DefaultOptions([]byte("live-test")),
	}

	// every call moves the clock one second so consecutive RecordSeen differ
	var tick atomic.Int64
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }

	cache := memstore.NewPresenceCache(time.Hour, clock)
	h.presence = presencesvc.NewService(cache, h.store, h.bus, presencesvc.WithClock(clock))
	h.unread = unreadsvc.NewService(h.store, h.store)

	table := notify.NewTable(h.bus, media.NewCleaner(t.TempDir(), nil))
	sup := notify.NewSupervisor(h.store, table, notify.ListenerConf{MaxRetries: 3, BaseBackoff: time.Millisecond}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	supDone := make(chan struct{})
	go func() {
		_ = sup.Run(ctx)
		close(supDone)
	}()
	require.Eventually(t, func() bool {
		for _, k := range notify.Kinds {
			if h.store.Listening(k.Channel()) != 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	h.mgr = NewManager(ManagerConf{
		PingPeriod:  time.Second,
		PongWait:    5 * time.Second,
		WriteWait:   time.Second,
		AuthTimeout: 300 * time.Millisecond,
		MaxRetries:  2,
		RetryBase:   time.Millisecond,
	}, Deps{
		Bus:       h.bus,
		Directory: h.store,
		Presence:  h.presence,
		Unread:    h.unread,
		Auth:      func(tok string) (int64, error) { return security.Authenticate(h.opts, tok) },
		Registry:  h.reg,
		Metrics:   h.metrics,
	})

	r := gin.New()
	r.GET("/ws/presence", h.mgr.HandlePresence)
	r.GET("/ws/unread", h.mgr.HandleUnread)
	h.srv = httptest.NewServer(r)

	t.Cleanup(func() {
		h.mgr.Close()
		h.srv.Close()
		cancel()
		<-supDone
	})
	return h
}

type fakeRegistry struct {
	mu    sync.Mutex
	live  map[string]string
	beats int
}

func (r *fakeRegistry) Register(_ context.Context, _ int64, sessionID, flavor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[sessionID] = flavor
	return nil
}

func (r *fakeRegistry) Heartbeat(_ context.Context, _ int64, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beats++
	_, ok := r.live[sessionID]
	return ok, nil
}

func (r *fakeRegistry) Unregister(_ context.Context, _ int64, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, sessionID)
	return nil
}

func (r *fakeRegistry) flavors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, f := range r.live {
		out = append(out, f)
	}
	return out
}

func (h *harness) token(t *testing.T, userID int64) string {
	tok, _, err := security.Generate(h.opts, userID)
	require.NoError(t, err)
	return tok
}

func (h *harness) dial(t *testing.T, path, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + path
	if query != "" {
		url += "?" + query
	}
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *harness) connect(t *testing.T, path string, userID int64) *websocket.Conn {
	return h.dial(t, path, "token="+h.token(t, userID))
}

func readFrame(t *testing.T, c *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	return data
}

func readSeen(t *testing.T, c *websocket.Conn) []presencemodel.Seen {
	t.Helper()
	var out []presencemodel.Seen
	require.NoError(t, json.Unmarshal(readFrame(t, c), &out))
	return out
}

func readEntries(t *testing.T, c *websocket.Conn) []unreadmodel.Entry {
	t.Helper()
	var out []unreadmodel.Entry
	require.NoError(t, json.Unmarshal(readFrame(t, c), &out))
	return out
}

func expectClose(t *testing.T, c *websocket.Conn, code int, text string) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		assert.Equal(t, code, ce.Code)
		if text != "" {
			assert.Equal(t, text, ce.Text)
		}
		return
	}
}

func seenIDs(seen []presencemodel.Seen) []int64 {
	out := make([]int64, len(seen))
	for i, s := range seen {
		out[i] = s.UserID
	}
	return out
}

// users 1..3 exist; conversation 10 holds only user 2
func (h *harness) seed(t *testing.T) {
	for id := int64(1); id <= 3; id++ {
		h.store.AddUser(id, "")
	}
	h.store.AddConversation(10, "")
	require.NoError(t, h.store.AddMember(10, 2))
}

func TestPresenceFollowsMembership(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	require.NoError(t, h.presence.RecordSeen(ctx, 2))

	c := h.connect(t, "/ws/presence", 1)
	assert.Equal(t, "[]", string(readFrame(t, c)))

	require.NoError(t, h.store.AddMember(10, 1))
	got := readSeen(t, c)
	require.Equal(t, []int64{2}, seenIDs(got))
	require.NotNil(t, got[0].LastSeen)

	h.store.RemoveMember(10, 1)
	assert.Equal(t, "[]", string(readFrame(t, c)))
}

func TestPresenceTrackedSetMatchesMembership(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	h.store.AddConversation(20, "")
	require.NoError(t, h.store.AddMember(20, 1))

	c := h.connect(t, "/ws/presence", 1)
	assert.Equal(t, "[]", string(readFrame(t, c)))

	require.NoError(t, h.store.AddMember(20, 3))
	assert.Equal(t, []int64{3}, seenIDs(readSeen(t, c)))

	require.NoError(t, h.store.AddMember(10, 1))
	assert.Equal(t, []int64{2, 3}, seenIDs(readSeen(t, c)))

	require.NoError(t, h.store.AddMember(20, 2))
	// 2 was already a recipient through 10, nothing to push; 3 leaves 20
	h.store.RemoveMember(20, 3)
	assert.Equal(t, []int64{2}, seenIDs(readSeen(t, c)))

	want, err := h.store.Recipients(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, want)
}

func TestPresenceSnapshotEqualsGroundTruth(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	require.NoError(t, h.store.AddMember(10, 1))
	h.store.AddConversation(20, "")
	require.NoError(t, h.store.AddMember(20, 1))
	require.NoError(t, h.store.AddMember(20, 3))
	ctx := context.Background()
	require.NoError(t, h.presence.RecordSeen(ctx, 3))

	c := h.connect(t, "/ws/presence", 1)
	frame := readFrame(t, c)

	recips, err := h.store.Recipients(ctx, 1)
	require.NoError(t, err)
	truth, err := h.presence.ReadSeen(ctx, recips)
	require.NoError(t, err)
	want, err := json.Marshal(truth)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(frame))
}

func TestPresenceLastOnlineDelta(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	require.NoError(t, h.store.AddMember(10, 1))
	ctx := context.Background()

	c := h.connect(t, "/ws/presence", 1)
	snap := readSeen(t, c)
	require.Equal(t, []int64{2}, seenIDs(snap))
	assert.Nil(t, snap[0].LastSeen)

	// a client-supplied id list is ignored, 3 is not a partner
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"user_ids":[3]}`)))
	require.NoError(t, h.presence.RecordSeen(ctx, 3))
	require.NoError(t, h.presence.RecordSeen(ctx, 2))

	got := readSeen(t, c)
	require.Equal(t, []int64{2}, seenIDs(got))
	require.NotNil(t, got[0].LastSeen)
}

func TestUnreadScenario(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	require.NoError(t, h.store.AddMember(10, 1))
	h.store.AddMessage(100, 10, 2, "")
	ctx := context.Background()
	require.NoError(t, h.unread.Create(ctx, 2, 10, unreadmodel.MessageRef(100), []int64{1}))

	// token in the first frame instead of the query
	c := h.dial(t, "/ws/unread", "")
	require.NoError(t, c.WriteJSON(map[string]string{"token": h.token(t, 1)}))

	snap := readEntries(t, c)
	require.Len(t, snap, 1)
	assert.Equal(t, unreadmodel.MessageRef(100), snap[0].Ref())
	assert.Equal(t, int64(10), snap[0].ConversationID)

	require.Eventually(t, func() bool {
		list, _ := h.unread.List(ctx, 1)
		return len(list) == 1 && list[0].Delivered()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.unread.Acknowledge(ctx, 1, 10, unreadmodel.MessageRef(100)))
	list, err := h.unread.List(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, list)
	// an entry went away: the full list is pushed again
	assert.Equal(t, "[]", string(readFrame(t, c)))

	// only the new entry is pushed
	h.store.AddMessage(101, 10, 2, "")
	require.NoError(t, h.unread.Create(ctx, 2, 10, unreadmodel.MessageRef(101), []int64{1}))
	delta := readEntries(t, c)
	require.Len(t, delta, 1)
	assert.Equal(t, unreadmodel.MessageRef(101), delta[0].Ref())
}

func TestUnreadSnapshotShape(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	require.NoError(t, h.store.AddMember(10, 1))
	require.NoError(t, h.unread.Create(context.Background(), 2, 10, unreadmodel.CallRef(7), []int64{1}))

	c := h.connect(t, "/ws/unread", 1)
	assert.JSONEq(t, `[{"id":1,"user_id":1,"conversation_id":10,"message_id":null,"call_id":7}]`, string(readFrame(t, c)))
}

func TestRejectsBadIdentity(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	c := h.dial(t, "/ws/presence", "token=garbage")
	expectClose(t, c, websocket.ClosePolicyViolation, "invalid credentials")

	c = h.dial(t, "/ws/presence", "")
	expectClose(t, c, websocket.ClosePolicyViolation, "invalid credentials")

	c = h.connect(t, "/ws/presence", 404)
	expectClose(t, c, websocket.ClosePolicyViolation, "user not found")

	// unread waits for a first frame, then gives up
	c = h.dial(t, "/ws/unread", "")
	expectClose(t, c, websocket.ClosePolicyViolation, "invalid credentials")
}

func TestMalformedInputCloses(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	c := h.connect(t, "/ws/presence", 1)
	readFrame(t, c)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`[1,2,3]`)))
	expectClose(t, c, websocket.ClosePolicyViolation, "malformed input")

	c = h.dial(t, "/ws/unread", "")
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`token please`)))
	expectClose(t, c, websocket.ClosePolicyViolation, "malformed input")
}

func TestViewerDeletionCloses(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	require.NoError(t, h.store.AddMember(10, 1))

	c := h.connect(t, "/ws/presence", 1)
	readFrame(t, c)

	h.store.DeleteUser(1)
	expectClose(t, c, websocket.ClosePolicyViolation, "user not found")
}

func TestViewerWithoutConversationsDeletionCloses(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	for _, path := range []string{"/ws/presence", "/ws/unread"} {
		h.store.AddUser(1, "")
		c := h.connect(t, path, 1)
		assert.Equal(t, "[]", string(readFrame(t, c)))

		h.store.DeleteUser(1)
		expectClose(t, c, websocket.ClosePolicyViolation, "user not found")
	}
}

func TestUnreadRemovalPushesFullList(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	require.NoError(t, h.store.AddMember(10, 1))
	h.store.AddMessage(100, 10, 2, "")
	h.store.AddMessage(101, 10, 2, "")
	ctx := context.Background()
	require.NoError(t, h.unread.Create(ctx, 2, 10, unreadmodel.MessageRef(100), []int64{1}))
	require.NoError(t, h.unread.Create(ctx, 2, 10, unreadmodel.MessageRef(101), []int64{1}))

	c := h.connect(t, "/ws/unread", 1)
	require.Len(t, readEntries(t, c), 2)

	h.store.DeleteMessage(100)
	got := readEntries(t, c)
	truth, err := h.unread.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, unreadmodel.MessageRef(101), got[0].Ref())
	assert.Equal(t, truth[0].ID, got[0].ID)

	h.store.DeleteConversation(10)
	assert.Equal(t, "[]", string(readFrame(t, c)))
}

func TestResubscribeAfterBusDrop(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	require.NoError(t, h.store.AddMember(10, 1))

	c := h.connect(t, "/ws/presence", 1)
	first := readFrame(t, c)

	h.bus.Interrupt(false)
	assert.Equal(t, string(first), string(readFrame(t, c)), "fresh baseline after resubscribe")

	h.bus.Interrupt(true)
	expectClose(t, c, websocket.CloseTryAgainLater, "bus unavailable")
}

func TestCloseReleasesSubscription(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	c := h.connect(t, "/ws/unread", 1)
	readFrame(t, c)
	require.Equal(t, 1, h.bus.Subscribers(global.TopicUnreadChanged))
	require.Equal(t, 1, h.mgr.UserSessions(1))

	require.NoError(t, c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool {
		return h.bus.Subscribers(global.TopicUnreadChanged) == 0 && h.mgr.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerCloseSendsGoingAway(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	c := h.connect(t, "/ws/presence", 1)
	readFrame(t, c)
	go h.mgr.Close()
	expectClose(t, c, websocket.CloseGoingAway, "")
}

func TestUpgradeRequired(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL + "/ws/presence")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegistryFollowsSessionLifetime(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	c := h.connect(t, "/ws/presence", 1)
	readFrame(t, c)
	assert.Equal(t, []string{"presence"}, h.reg.flavors())

	online, err := h.mgr.Online(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{1: 1, 2: 0}, online)

	require.NoError(t, c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return len(h.reg.flavors()) == 0 }, 2*time.Second, 10*time.Millisecond)
}
