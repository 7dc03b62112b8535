package model

import (
	"encoding/json"
	"testing"

	"chatwave/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefValidate(t *testing.T) {
	m, c := int64(1), int64(2)
	assert.NoError(t, MessageRef(1).Validate())
	assert.NoError(t, CallRef(2).Validate())

	err := Ref{MessageID: &m, CallID: &c}.Validate()
	assert.True(t, errs.ErrAmbiguousReference.Is(err))
	err = Ref{}.Validate()
	assert.True(t, errs.ErrAmbiguousReference.Is(err))
}

func TestRefEqual(t *testing.T) {
	assert.True(t, MessageRef(5).Equal(MessageRef(5)))
	assert.False(t, MessageRef(5).Equal(MessageRef(6)))
	assert.False(t, MessageRef(5).Equal(CallRef(5)))
	assert.True(t, Ref{}.Equal(Ref{}))
}

func TestEntryWireShape(t *testing.T) {
	mid := int64(30)
	b, err := json.Marshal([]Entry{{ID: 1, UserID: 2, ConversationID: 3, MessageID: &mid}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"user_id":2,"conversation_id":3,"message_id":30,"call_id":null}]`, string(b))
}
