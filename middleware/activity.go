package middleware

import (
	"context"

	"chatwave/logger"
	"chatwave/middleware/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SeenRecorder interface {
	RecordSeen(ctx context.Context, userID int64) error
}

// RecordActivity refreshes the caller's last-seen timestamp. It must run after
// security.Middleware; a cache failure never fails the request.
func RecordActivity(rec SeenRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid, ok := security.UserID(c); ok {
			if err := rec.RecordSeen(c.Request.Context(), uid); err != nil {
				logger.Warn("record activity failed", zap.Int64("user_id", uid), zap.Error(err))
			}
		}
	}
}
