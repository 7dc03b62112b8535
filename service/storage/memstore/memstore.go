// Package memstore is an in-process stand-in for the relational store. Every
// mutation emits the same notification the database triggers would, after
// the change is applied.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"chatwave/module/unread/model"
	"chatwave/service/notify"
	"chatwave/tools/errs"
)

type user struct {
	avatar     string
	lastOnline *time.Time
}

type message struct {
	conversationID int64
	senderID       int64
	media          string
}

type Store struct {
	mu            sync.RWMutex
	users         map[int64]*user
	conversations map[int64]string // id -> group avatar
	members       map[int64]map[int64]struct{}
	messages      map[int64]*message
	unread        map[int64]*model.Entry
	nextUnread    int64

	// SaveLastOnline fails with this error when set; tests use it.
	FailSave error

	hub *hub
}

func New() *Store {
	return &Store{
		users:         make(map[int64]*user),
		conversations: make(map[int64]string),
		members:       make(map[int64]map[int64]struct{}),
		messages:      make(map[int64]*message),
		unread:        make(map[int64]*model.Entry),
		hub:           newHub(),
	}
}

func (s *Store) emit(kind notify.Kind, payload map[string]any) {
	b, _ := json.Marshal(payload)
	s.hub.publish(kind.Channel(), string(b))
}

// ---- fixtures / mutations ----

func (s *Store) AddUser(id int64, avatar string) {
	s.mu.Lock()
	s.users[id] = &user{avatar: avatar}
	s.mu.Unlock()
}

// DeleteUser cascades to memberships and unread entries like ON DELETE CASCADE.
func (s *Store) DeleteUser(id int64) {
	s.mu.Lock()
	u, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.users, id)
	var left []int64
	for cid, set := range s.members {
		if _, in := set[id]; in {
			delete(set, id)
			left = append(left, cid)
		}
	}
	dropped := s.dropUnreadLocked(func(e *model.Entry) bool { return e.UserID == id })
	s.mu.Unlock()

	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	for _, cid := range left {
		s.emit(notify.KindMembershipChanged, map[string]any{"user_id": id, "conversation_id": cid})
	}
	for range dropped {
		s.emit(notify.KindUnreadChanged, map[string]any{"user_id": id})
	}
	s.emit(notify.KindUserDeleted, map[string]any{"user_id": id, "artifact": nullable(u.avatar)})
}

func (s *Store) AddConversation(id int64, avatar string) {
	s.mu.Lock()
	s.conversations[id] = avatar
	s.members[id] = make(map[int64]struct{})
	s.mu.Unlock()
}

func (s *Store) DeleteConversation(id int64) {
	s.mu.Lock()
	avatar, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.conversations, id)
	var left []int64
	for uid := range s.members[id] {
		left = append(left, uid)
	}
	delete(s.members, id)
	for mid, m := range s.messages {
		if m.conversationID == id {
			delete(s.messages, mid)
		}
	}
	dropped := s.dropUnreadLocked(func(e *model.Entry) bool { return e.ConversationID == id })
	s.mu.Unlock()

	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	for _, uid := range left {
		s.emit(notify.KindMembershipChanged, map[string]any{"user_id": uid, "conversation_id": id})
	}
	for _, uid := range dropped {
		s.emit(notify.KindUnreadChanged, map[string]any{"user_id": uid})
	}
	s.emit(notify.KindConversationDeleted, map[string]any{"conversation_id": id, "artifact": nullable(avatar)})
}

func (s *Store) AddMember(conversationID, userID int64) error {
	s.mu.Lock()
	set, ok := s.members[conversationID]
	if !ok {
		s.mu.Unlock()
		return errs.ErrRecordNotFound.WrapMsg("conversation")
	}
	if _, ok := s.users[userID]; !ok {
		s.mu.Unlock()
		return errs.ErrUserNotFound.Wrap()
	}
	set[userID] = struct{}{}
	s.mu.Unlock()
	s.emit(notify.KindMembershipChanged, map[string]any{"user_id": userID, "conversation_id": conversationID})
	return nil
}

func (s *Store) RemoveMember(conversationID, userID int64) {
	s.mu.Lock()
	set, ok := s.members[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, in := set[userID]; !in {
		s.mu.Unlock()
		return
	}
	delete(set, userID)
	s.mu.Unlock()
	s.emit(notify.KindMembershipChanged, map[string]any{"user_id": userID, "conversation_id": conversationID})
}

func (s *Store) AddMessage(id, conversationID, senderID int64, media string) {
	s.mu.Lock()
	s.messages[id] = &message{conversationID: conversationID, senderID: senderID, media: media}
	s.mu.Unlock()
}

func (s *Store) DeleteMessage(id int64) {
	s.mu.Lock()
	m, ok := s.messages[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.messages, id)
	dropped := s.dropUnreadLocked(func(e *model.Entry) bool { return e.MessageID != nil && *e.MessageID == id })
	s.mu.Unlock()

	for _, uid := range dropped {
		s.emit(notify.KindUnreadChanged, map[string]any{"user_id": uid})
	}
	s.emit(notify.KindMessageDeleted, map[string]any{"message_id": id, "artifact": nullable(m.media)})
}

// dropUnreadLocked deletes matching entries and returns the owning user per row.
func (s *Store) dropUnreadLocked(match func(*model.Entry) bool) []int64 {
	var ids []int64
	var users []int64
	for id, e := range s.unread {
		if match(e) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		users = append(users, s.unread[id].UserID)
		delete(s.unread, id)
	}
	return users
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ---- directory ----

func (s *Store) UserExists(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *Store) MissingUsers(_ context.Context, ids []int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []int64
	for _, id := range ids {
		if _, ok := s.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *Store) Conversations(_ context.Context, userID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for cid, set := range s.members {
		if _, ok := set[userID]; ok {
			out = append(out, cid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Recipients lists everyone sharing at least one conversation with userID.
func (s *Store) Recipients(_ context.Context, userID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uniq := make(map[int64]struct{})
	for _, set := range s.members {
		if _, ok := set[userID]; !ok {
			continue
		}
		for uid := range set {
			if uid != userID {
				uniq[uid] = struct{}{}
			}
		}
	}
	return sortedKeys(uniq), nil
}

func (s *Store) ConversationMembers(_ context.Context, conversationID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.members[conversationID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("conversation")
	}
	return sortedKeys(set), nil
}

func (s *Store) MessageOwner(_ context.Context, messageID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return 0, errs.ErrRecordNotFound.WrapMsg("message")
	}
	return m.senderID, nil
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ---- durable presence ----

func (s *Store) LastOnline(_ context.Context, ids []int64) (map[int64]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]time.Time, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok && u.lastOnline != nil {
			out[id] = *u.lastOnline
		}
	}
	return out, nil
}

// SaveLastOnline applies all pairs or none. Unknown users are skipped like an
// UPDATE ... FROM unnest join would.
func (s *Store) SaveLastOnline(_ context.Context, seen map[int64]time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	for id, t := range seen {
		if u, ok := s.users[id]; ok {
			t := t.UTC()
			u.lastOnline = &t
		}
	}
	return nil
}

// ---- unread ----

func (s *Store) InsertUnread(_ context.Context, entries []model.Entry) error {
	s.mu.Lock()
	for _, e := range entries {
		for _, old := range s.unread {
			if old.UserID == e.UserID && old.ConversationID == e.ConversationID && old.Ref().Equal(e.Ref()) {
				s.mu.Unlock()
				return errs.ErrorRecordIsExist.WrapMsg("unread entry")
			}
		}
	}
	for _, e := range entries {
		s.nextUnread++
		e := e
		e.ID = s.nextUnread
		s.unread[e.ID] = &e
	}
	s.mu.Unlock()

	for _, e := range entries {
		s.emit(notify.KindUnreadChanged, map[string]any{"user_id": e.UserID})
	}
	return nil
}

func (s *Store) ListUnread(_ context.Context, userID int64) ([]model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Entry, 0)
	for _, e := range s.unread {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MarkDelivered(_ context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if e, ok := s.unread[id]; ok && e.DeliveredAt == nil {
			t := at
			e.DeliveredAt = &t
		}
	}
	return nil
}

func (s *Store) DeleteUnread(_ context.Context, userID, conversationID int64, ref model.Ref) (int64, error) {
	s.mu.Lock()
	dropped := s.dropUnreadLocked(func(e *model.Entry) bool {
		return e.UserID == userID && e.ConversationID == conversationID && e.Ref().Equal(ref)
	})
	s.mu.Unlock()
	for _, uid := range dropped {
		s.emit(notify.KindUnreadChanged, map[string]any{"user_id": uid})
	}
	return int64(len(dropped)), nil
}

// ---- notifications ----

// Dial opens a listening connection, Store satisfies notify.Dialer.
func (s *Store) Dial(ctx context.Context) (notify.Conn, error) {
	c, err := s.hub.dial(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DropListeners breaks every open listening connection.
func (s *Store) DropListeners() { s.hub.dropAll() }

// RefuseDials makes Dial fail until called again with false.
func (s *Store) RefuseDials(refuse bool) { s.hub.setRefuse(refuse) }

// Listening reports how many connections LISTEN on channel.
func (s *Store) Listening(channel string) int { return s.hub.listening(channel) }
