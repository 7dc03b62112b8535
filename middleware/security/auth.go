package security

import (
	"net/http"

	"chatwave/tools/errs"
	toolsec "chatwave/tools/security"

	"github.com/gin-gonic/gin"
)

// CtxUserIDKey is where the authenticated user id (int64) is stored.
const CtxUserIDKey = "user_id"

type Options struct {
	// Authenticate maps a bearer token to a user id.
	Authenticate func(token string) (int64, error)
	// AllowQueryToken also accepts ?token=, needed by browsers opening a websocket.
	AllowQueryToken bool
}

// Middleware rejects requests without a valid bearer token with 401.
func Middleware(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if opts.AllowQueryToken {
			token = toolsec.BearerToken(c.Request)
		} else {
			token = toolsec.HeaderToken(c.Request)
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrInvalidCredentials)
			return
		}
		uid, err := opts.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrInvalidCredentials)
			return
		}
		c.Set(CtxUserIDKey, uid)
	}
}

// UserID returns the id set by Middleware.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
