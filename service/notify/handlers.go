package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"chatwave/global"
	"chatwave/service/media"
)

// Publisher is the producing half of the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Cleaner deletes orphaned media files.
type Cleaner interface {
	Remove(ctx context.Context, cat media.Category, artifact string) error
}

// Table routes each kind to its handler.
type Table map[Kind]Handler

// Handle dispatches ev through the table.
func (t Table) Handle(ctx context.Context, ev Event) error {
	h, ok := t[ev.Kind()]
	if !ok {
		return fmt.Errorf("no handler for %s", ev.Kind())
	}
	return h(ctx, ev)
}

var cleanupCategory = map[Kind]media.Category{
	KindUserDeleted:         media.UserAvatars,
	KindConversationDeleted: media.GroupAvatars,
	KindMessageDeleted:      media.MessageFiles,
}

// NewTable builds the default routing: unread and membership changes go to the
// bus, deletions go to the media cleaner. A deleted user is also announced so
// their live sessions can close.
func NewTable(pub Publisher, cleaner Cleaner) Table {
	t := Table{
		KindUnreadChanged:     unreadHandler(pub),
		KindMembershipChanged: membershipHandler(pub),
	}
	for kind := range cleanupCategory {
		t[kind] = cleanupHandler(cleaner)
	}
	t[KindUserDeleted] = userDeletedHandler(pub, t[KindUserDeleted])
	return t
}

func unreadHandler(pub Publisher) Handler {
	return func(ctx context.Context, ev Event) error {
		e, ok := ev.(UnreadChanged)
		if !ok {
			return fmt.Errorf("unexpected event %T", ev)
		}
		return pub.Publish(ctx, global.TopicUnreadChanged, []byte(strconv.FormatInt(e.UserID, 10)))
	}
}

func membershipHandler(pub Publisher) Handler {
	return func(ctx context.Context, ev Event) error {
		e, ok := ev.(MembershipChanged)
		if !ok {
			return fmt.Errorf("unexpected event %T", ev)
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return pub.Publish(ctx, global.TopicRecipientsChanged, payload)
	}
}

func userDeletedHandler(pub Publisher, cleanup Handler) Handler {
	return func(ctx context.Context, ev Event) error {
		e, ok := ev.(ArtifactDeleted)
		if !ok {
			return fmt.Errorf("unexpected event %T", ev)
		}
		_ = cleanup(ctx, ev)
		return pub.Publish(ctx, global.TopicUserDeleted, []byte(strconv.FormatInt(e.RowID, 10)))
	}
}

// cleanupHandler never fails the listener, the cleaner already logs.
func cleanupHandler(cleaner Cleaner) Handler {
	return func(ctx context.Context, ev Event) error {
		e, ok := ev.(ArtifactDeleted)
		if !ok {
			return fmt.Errorf("unexpected event %T", ev)
		}
		_ = cleaner.Remove(ctx, cleanupCategory[e.Of], e.Artifact)
		return nil
	}
}
