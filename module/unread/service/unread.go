package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"chatwave/module/unread/model"
	"chatwave/tools/errs"
)

// Store is the unread_messages table.
type Store interface {
	// InsertUnread inserts all entries in one transaction. A duplicate
	// (user, conversation, message-or-call) fails the whole batch with
	// errs.ErrorRecordIsExist.
	InsertUnread(ctx context.Context, entries []model.Entry) error
	ListUnread(ctx context.Context, userID int64) ([]model.Entry, error)
	MarkDelivered(ctx context.Context, ids []int64, at time.Time) error
	// DeleteUnread removes the single matching entry and reports how many rows went.
	DeleteUnread(ctx context.Context, userID, conversationID int64, ref model.Ref) (int64, error)
}

// Directory answers the user / membership questions creation depends on.
type Directory interface {
	MissingUsers(ctx context.Context, ids []int64) ([]int64, error)
	ConversationMembers(ctx context.Context, conversationID int64) ([]int64, error)
	MessageOwner(ctx context.Context, messageID int64) (int64, error)
}

type Service struct {
	store Store
	dir   Directory
	now   func() time.Time
}

func NewService(store Store, dir Directory) *Service {
	return &Service{store: store, dir: dir, now: time.Now}
}

// Create records one unread entry per recipient for the referenced message or call.
func (s *Service) Create(ctx context.Context, senderID, conversationID int64, ref model.Ref, recipients []int64) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if len(recipients) == 0 {
		return errs.ErrMalformedInput.WrapMsg("recipients required")
	}
	recipients = dedupe(recipients)
	for _, id := range recipients {
		if id == senderID {
			return errs.ErrSameUsers.Wrap()
		}
	}

	if ref.MessageID != nil {
		owner, err := s.dir.MessageOwner(ctx, *ref.MessageID)
		if err != nil {
			return err
		}
		if owner != senderID {
			return errs.ErrAccessDenied.WrapMsg("not the message owner")
		}
	}

	missing, err := s.dir.MissingUsers(ctx, recipients)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errs.ErrUserNotFound.WrapMsg("users " + joinIDs(missing))
	}

	members, err := s.dir.ConversationMembers(ctx, conversationID)
	if err != nil {
		return err
	}
	in := make(map[int64]struct{}, len(members))
	for _, m := range members {
		in[m] = struct{}{}
	}
	for _, id := range append([]int64{senderID}, recipients...) {
		if _, ok := in[id]; !ok {
			return errs.ErrAccessDenied.WrapMsg("user " + strconv.FormatInt(id, 10) + " not in conversation")
		}
	}

	entries := make([]model.Entry, 0, len(recipients))
	for _, id := range recipients {
		entries = append(entries, model.Entry{
			UserID:         id,
			ConversationID: conversationID,
			MessageID:      ref.MessageID,
			CallID:         ref.CallID,
		})
	}
	return s.store.InsertUnread(ctx, entries)
}

func (s *Service) List(ctx context.Context, userID int64) ([]model.Entry, error) {
	return s.store.ListUnread(ctx, userID)
}

// MarkDelivered stamps entries as pushed to a live session. Not read yet.
func (s *Service) MarkDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.store.MarkDelivered(ctx, ids, s.now())
}

// Acknowledge is the read confirmation: exactly the referenced entry of this
// user in this conversation is deleted.
func (s *Service) Acknowledge(ctx context.Context, userID, conversationID int64, ref model.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	n, err := s.store.DeleteUnread(ctx, userID, conversationID, ref)
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrRecordNotFound.Wrap()
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
