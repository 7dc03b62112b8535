package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"chatwave/middleware/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	seen []int64
	err  error
}

func (r *recorder) RecordSeen(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, userID)
	return r.err
}

func (r *recorder) calls() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.seen...)
}

func authAs(id int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(security.CtxUserIDKey, id)
	}
}

func newEngine(rec *recorder, order *[]string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	chain := NewManager(authAs(9), RecordActivity(rec))
	rt := NewRouter(r, chain)
	rt.GET("/private", func(c *gin.Context) {
		*order = append(*order, "handler")
		c.Status(http.StatusOK)
	}, RouteOpt{IsAuth: true})
	rt.POST("/public", func(c *gin.Context) { c.Status(http.StatusOK) }, RouteOpt{})
	return r
}

func do(r http.Handler, method, path string, authed bool) int {
	req := httptest.NewRequest(method, path, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer x")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAuthenticatedRouteRecordsActivity(t *testing.T) {
	rec := &recorder{}
	var order []string
	r := newEngine(rec, &order)

	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/private", true))
	assert.Equal(t, []int64{9}, rec.calls())
	assert.Equal(t, []string{"handler"}, order)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/private", false))
	assert.Len(t, rec.calls(), 1)
	assert.Len(t, order, 1)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/public", false))
	assert.Len(t, rec.calls(), 1)
}

func TestRecordActivityFailureDoesNotFailRequest(t *testing.T) {
	rec := &recorder{err: errors.New("redis down")}
	var order []string
	r := newEngine(rec, &order)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/private", true))
	assert.Equal(t, []int64{9}, rec.calls())
}

func TestManagerAdd(t *testing.T) {
	m := NewManager()
	m.Add(func(c *gin.Context) { c.AbortWithStatus(http.StatusForbidden) })
	assert.Equal(t, 1, m.Len())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", m.Use(), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/", false))
}

func TestOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Origin([]string{"https://app.example.com/"}))
	r.GET("/ws/presence", func(c *gin.Context) { c.Status(http.StatusOK) })

	upgrade := func(origin string) int {
		req := httptest.NewRequest(http.MethodGet, "/ws/presence", nil)
		req.Header.Set("Upgrade", "websocket")
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, upgrade("https://app.example.com"))
	assert.Equal(t, http.StatusForbidden, upgrade("https://evil.example.com"))
	assert.Equal(t, http.StatusOK, upgrade(""))
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ws/presence", false))
}
