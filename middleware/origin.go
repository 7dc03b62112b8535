package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origin refuses websocket upgrades whose Origin header is not listed.
// An empty list allows every origin.
func Origin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(c *gin.Context) {
		if len(set) == 0 || !isUpgrade(c.Request) {
			c.Next()
			return
		}
		origin := strings.ToLower(c.GetHeader("Origin"))
		if origin == "" {
			c.Next()
			return
		}
		if _, ok := set[origin]; !ok {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func isUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
