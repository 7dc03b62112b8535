package unread

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatwave/middleware/security"
	"chatwave/module/unread/model"
	"chatwave/module/unread/service"
	"chatwave/service/storage/memstore"
	"chatwave/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// api serves the unread routes with the caller id taken from X-User.
func api(t *testing.T) (*gin.Engine, *memstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memstore.New()
	for id := int64(1); id <= 3; id++ {
		store.AddUser(id, "")
	}
	store.AddConversation(10, "")
	require.NoError(t, store.AddMember(10, 1))
	require.NoError(t, store.AddMember(10, 2))
	store.AddMessage(100, 10, 2, "")

	h := NewHandler(service.NewService(store, store))
	as := func(c *gin.Context) {
		var id int64
		require.NoError(t, json.Unmarshal([]byte(c.GetHeader("X-User")), &id))
		c.Set(security.CtxUserIDKey, id)
	}
	r := gin.New()
	r.GET("/api/unread", as, h.List)
	r.POST("/api/unread", as, h.Create)
	r.POST("/api/unread/ack", as, h.Ack)
	return r, store
}

func call(r http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("X-User", user)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func codeOf(t *testing.T, w *httptest.ResponseRecorder) int {
	var body errs.CodeError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestCreateListAck(t *testing.T) {
	r, _ := api(t)

	w := call(r, http.MethodGet, "/api/unread", "1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	w = call(r, http.MethodPost, "/api/unread", "2", `{"conversation_id":10,"message_id":100,"recipients":[1]}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = call(r, http.MethodGet, "/api/unread", "1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []model.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, model.MessageRef(100), entries[0].Ref())

	w = call(r, http.MethodPost, "/api/unread/ack", "1", `{"conversation_id":10,"message_id":100}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = call(r, http.MethodGet, "/api/unread", "1", "")
	assert.Equal(t, "[]", w.Body.String())

	w = call(r, http.MethodPost, "/api/unread/ack", "1", `{"conversation_id":10,"message_id":100}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRejects(t *testing.T) {
	r, _ := api(t)

	cases := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{"both refs", `{"conversation_id":10,"message_id":100,"call_id":5,"recipients":[1]}`, 400, errs.AmbiguousReference},
		{"no ref", `{"conversation_id":10,"recipients":[1]}`, 400, errs.AmbiguousReference},
		{"sender is recipient", `{"conversation_id":10,"message_id":100,"recipients":[1,2]}`, 400, errs.SameUsers},
		{"unknown user", `{"conversation_id":10,"message_id":100,"recipients":[77]}`, 404, errs.UserNotFound},
		{"outside conversation", `{"conversation_id":10,"message_id":100,"recipients":[3]}`, 403, errs.AccessDenied},
		{"no conversation", `{"message_id":100,"recipients":[1]}`, 400, errs.MalformedInput},
		{"not json", `recipients=1`, 400, errs.MalformedInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := call(r, http.MethodPost, "/api/unread", "2", tc.body)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, codeOf(t, w))
		})
	}

	w := call(r, http.MethodPost, "/api/unread", "2", `{"conversation_id":10,"message_id":100,"recipients":[1]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w = call(r, http.MethodPost, "/api/unread", "2", `{"conversation_id":10,"message_id":100,"recipients":[1]}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}
