package service

import (
	"context"
	"testing"

	"chatwave/module/unread/model"
	"chatwave/service/storage/memstore"
	"chatwave/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// users 1..4; conversation 10 = {1,2,3}, conversation 20 = {1,4}; message 100 by 1 in 10
func newService(t *testing.T) (*Service, *memstore.Store) {
	s := memstore.New()
	for id := int64(1); id <= 4; id++ {
		s.AddUser(id, "")
	}
	s.AddConversation(10, "")
	s.AddConversation(20, "")
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, s.AddMember(10, id))
	}
	require.NoError(t, s.AddMember(20, 1))
	require.NoError(t, s.AddMember(20, 4))
	s.AddMessage(100, 10, 1, "")
	s.AddMessage(101, 10, 1, "")
	return NewService(s, s), s
}

func TestCreateRejectsAmbiguousReference(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	m, c := int64(100), int64(5)

	err := svc.Create(ctx, 1, 10, model.Ref{MessageID: &m, CallID: &c}, []int64{2})
	assert.True(t, errs.ErrAmbiguousReference.Is(err))

	err = svc.Create(ctx, 1, 10, model.Ref{}, []int64{2})
	assert.True(t, errs.ErrAmbiguousReference.Is(err))
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		sender     int64
		conv       int64
		ref        model.Ref
		recipients []int64
		want       *errs.CodeError
	}{
		{"sender among recipients", 1, 10, model.MessageRef(100), []int64{2, 1}, &errs.ErrSameUsers},
		{"no recipients", 1, 10, model.MessageRef(100), nil, &errs.ErrMalformedInput},
		{"not owner", 2, 10, model.MessageRef(100), []int64{3}, &errs.ErrAccessDenied},
		{"unknown message", 1, 10, model.MessageRef(999), []int64{2}, &errs.ErrRecordNotFound},
		{"unknown user", 1, 10, model.CallRef(5), []int64{2, 42}, &errs.ErrUserNotFound},
		{"outside conversation", 1, 10, model.CallRef(5), []int64{4}, &errs.ErrAccessDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Create(ctx, tc.sender, tc.conv, tc.ref, tc.recipients)
			require.Error(t, err)
			assert.Equal(t, tc.want.Code, errs.Code(err))
		})
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, 1, 10, model.MessageRef(100), []int64{2, 3, 2}))

	err := svc.Create(ctx, 1, 10, model.MessageRef(100), []int64{3})
	assert.True(t, errs.ErrorRecordIsExist.Is(err))

	list, err := svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAcknowledgeDeletesExactlyOne(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, 1, 10, model.MessageRef(100), []int64{2, 3}))
	require.NoError(t, svc.Create(ctx, 1, 10, model.MessageRef(101), []int64{2}))
	require.NoError(t, svc.Create(ctx, 1, 10, model.CallRef(100), []int64{2}))

	require.NoError(t, svc.Acknowledge(ctx, 2, 10, model.MessageRef(100)))

	left, err := svc.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, model.MessageRef(101), left[0].Ref())
	assert.Equal(t, model.CallRef(100), left[1].Ref())

	other, _ := svc.List(ctx, 3)
	assert.Len(t, other, 1)

	err = svc.Acknowledge(ctx, 2, 10, model.MessageRef(100))
	assert.True(t, errs.ErrRecordNotFound.Is(err))
}

func TestMarkDelivered(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, 1, 10, model.MessageRef(100), []int64{2}))
	list, _ := svc.List(ctx, 2)
	require.Len(t, list, 1)
	assert.False(t, list[0].Delivered())

	require.NoError(t, svc.MarkDelivered(ctx, []int64{list[0].ID}))
	require.NoError(t, svc.MarkDelivered(ctx, nil))
	list, _ = svc.List(ctx, 2)
	assert.True(t, list[0].Delivered())
}
