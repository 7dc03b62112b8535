package live

import (
	"context"

	"chatwave/global"
	unreadmodel "chatwave/module/unread/model"
	"chatwave/service/bus"
)

// unreadFlavor pushes outstanding unread entries and marks each delivered
// once pushed. A delta carries only the entries the client has not seen yet;
// once any known entry is gone the full list is pushed instead, so the client
// view always equals List(viewer).
type unreadFlavor struct {
	watch watchState
	known map[int64]struct{}
}

func newUnreadFlavor() flavor { return &unreadFlavor{} }

func (u *unreadFlavor) name() string { return "unread" }

func (u *unreadFlavor) topics() []string {
	return []string{global.TopicUnreadChanged, global.TopicRecipientsChanged}
}

func (u *unreadFlavor) firstMessageAuth() bool { return true }

func (u *unreadFlavor) baseline(ctx context.Context, s *Session) error {
	w, err := s.scope(ctx)
	if err != nil {
		return err
	}
	entries, err := s.m.deps.Unread.List(ctx, s.userID)
	if err != nil {
		return err
	}
	u.watch = w
	u.known = make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		u.known[e.ID] = struct{}{}
	}
	if entries == nil {
		entries = []unreadmodel.Entry{}
	}
	if err := s.push("snapshot", entries); err != nil {
		return err
	}
	return s.m.deps.Unread.MarkDelivered(ctx, entryIDs(entries))
}

func (u *unreadFlavor) handle(ctx context.Context, s *Session, m bus.Message) error {
	switch m.Topic {
	case global.TopicUnreadChanged:
		id, ok := parseUserID(m.Payload)
		if !ok || id != s.userID {
			return nil
		}
		return u.refresh(ctx, s)

	case global.TopicRecipientsChanged:
		ok, err := s.membershipChange(ctx, m.Payload, &u.watch)
		if !ok {
			return err
		}
		next, err := s.scope(ctx)
		if err != nil {
			return err
		}
		u.watch = next
		return u.refresh(ctx, s)
	}
	return nil
}

func (u *unreadFlavor) refresh(ctx context.Context, s *Session) error {
	entries, err := s.m.deps.Unread.List(ctx, s.userID)
	if err != nil {
		return err
	}
	next := make(map[int64]struct{}, len(entries))
	var fresh []unreadmodel.Entry
	for _, e := range entries {
		next[e.ID] = struct{}{}
		if _, seen := u.known[e.ID]; !seen {
			fresh = append(fresh, e)
		}
	}
	gone := false
	for id := range u.known {
		if _, ok := next[id]; !ok {
			gone = true
			break
		}
	}
	u.known = next

	switch {
	case gone:
		if entries == nil {
			entries = []unreadmodel.Entry{}
		}
		if err := s.push("snapshot", entries); err != nil {
			return err
		}
	case len(fresh) > 0:
		if err := s.push("delta", fresh); err != nil {
			return err
		}
	default:
		return nil
	}
	if len(fresh) == 0 {
		return nil
	}
	return s.m.deps.Unread.MarkDelivered(ctx, entryIDs(fresh))
}

func entryIDs(entries []unreadmodel.Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
