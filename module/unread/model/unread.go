package model

import (
	"time"

	"chatwave/tools/errs"
)

// Ref points at exactly one of a message or a call.
type Ref struct {
	MessageID *int64 `json:"message_id"`
	CallID    *int64 `json:"call_id"`
}

func MessageRef(id int64) Ref { return Ref{MessageID: &id} }
func CallRef(id int64) Ref    { return Ref{CallID: &id} }

// Validate enforces message/call mutual exclusivity.
func (r Ref) Validate() error {
	if (r.MessageID == nil) == (r.CallID == nil) {
		return errs.ErrAmbiguousReference.Wrap()
	}
	return nil
}

func (r Ref) Equal(o Ref) bool {
	return eqPtr(r.MessageID, o.MessageID) && eqPtr(r.CallID, o.CallID)
}

func eqPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Entry 一条未读记录；json 形状即 websocket 推送形状
type Entry struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	ConversationID int64      `json:"conversation_id"`
	MessageID      *int64     `json:"message_id"`
	CallID         *int64     `json:"call_id"`
	DeliveredAt    *time.Time `json:"-"`
}

func (e Entry) Ref() Ref { return Ref{MessageID: e.MessageID, CallID: e.CallID} }

func (e Entry) Delivered() bool { return e.DeliveredAt != nil }
