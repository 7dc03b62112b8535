package notify

import (
	"fmt"

	"chatwave/tools/decode"
)

// Kind 变更事件类型，每种类型对应一个 pg_notify 频道
type Kind int

const (
	KindUnreadChanged Kind = iota + 1
	KindMembershipChanged
	KindUserDeleted
	KindConversationDeleted
	KindMessageDeleted
)

// Kinds lists every kind in listener start-up order.
var Kinds = []Kind{
	KindUnreadChanged,
	KindMembershipChanged,
	KindUserDeleted,
	KindConversationDeleted,
	KindMessageDeleted,
}

var channels = map[Kind]string{
	KindUnreadChanged:       "unread_messages_changes",
	KindMembershipChanged:   "recipients_change",
	KindUserDeleted:         "user_delete",
	KindConversationDeleted: "conversation_delete",
	KindMessageDeleted:      "messages_delete",
}

// Channel is the notification channel the kind is emitted on.
func (k Kind) Channel() string { return channels[k] }

func (k Kind) String() string {
	if c, ok := channels[k]; ok {
		return c
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindOf maps a channel name back to its kind.
func KindOf(channel string) (Kind, bool) {
	for k, c := range channels {
		if c == channel {
			return k, true
		}
	}
	return 0, false
}

// Event is one decoded change notification.
type Event interface {
	Kind() Kind
}

// UnreadChanged: an unread row for UserID was inserted or deleted.
type UnreadChanged struct {
	UserID int64 `json:"user_id"`
}

func (UnreadChanged) Kind() Kind { return KindUnreadChanged }

// MembershipChanged: UserID joined or left ConversationID.
type MembershipChanged struct {
	UserID         int64 `json:"user_id"`
	ConversationID int64 `json:"conversation_id"`
}

func (MembershipChanged) Kind() Kind { return KindMembershipChanged }

// ArtifactDeleted: a user, conversation or message row was deleted; Artifact
// names the media file it owned, empty when it had none.
type ArtifactDeleted struct {
	Of       Kind
	RowID    int64
	Artifact string
}

func (e ArtifactDeleted) Kind() Kind { return e.Of }

type userDeletedPayload struct {
	UserID   int64  `json:"user_id"`
	Artifact string `json:"artifact"`
}

type conversationDeletedPayload struct {
	ConversationID int64  `json:"conversation_id"`
	Artifact       string `json:"artifact"`
}

type messageDeletedPayload struct {
	MessageID int64  `json:"message_id"`
	Artifact  string `json:"artifact"`
}

// Decode turns the raw payload of a channel into a typed event.
func Decode(kind Kind, payload string) (Event, error) {
	switch kind {
	case KindUnreadChanged:
		p, err := decode.JSON[UnreadChanged](payload)
		if err != nil {
			return nil, err
		}
		if p.UserID <= 0 {
			return nil, fmt.Errorf("%s: missing user_id", kind)
		}
		return *p, nil
	case KindMembershipChanged:
		p, err := decode.JSON[MembershipChanged](payload)
		if err != nil {
			return nil, err
		}
		if p.UserID <= 0 || p.ConversationID <= 0 {
			return nil, fmt.Errorf("%s: missing user_id or conversation_id", kind)
		}
		return *p, nil
	case KindUserDeleted:
		p, err := decode.JSON[userDeletedPayload](payload)
		if err != nil {
			return nil, err
		}
		return ArtifactDeleted{Of: kind, RowID: p.UserID, Artifact: p.Artifact}, nil
	case KindConversationDeleted:
		p, err := decode.JSON[conversationDeletedPayload](payload)
		if err != nil {
			return nil, err
		}
		return ArtifactDeleted{Of: kind, RowID: p.ConversationID, Artifact: p.Artifact}, nil
	case KindMessageDeleted:
		p, err := decode.JSON[messageDeletedPayload](payload)
		if err != nil {
			return nil, err
		}
		return ArtifactDeleted{Of: kind, RowID: p.MessageID, Artifact: p.Artifact}, nil
	default:
		return nil, fmt.Errorf("unknown change kind %d", int(kind))
	}
}
