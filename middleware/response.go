package middleware

import (
	"chatwave/logger"
	"chatwave/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Fail aborts with the CodeError carried by err.
func Fail(c *gin.Context, err error) {
	status, body := errs.Render(err)
	if status >= 500 {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

// BadRequest aborts with ErrMalformedInput, detail taken from the bind error.
func BadRequest(c *gin.Context, err error) {
	body := errs.ErrMalformedInput.WithDetail(err.Error())
	c.AbortWithStatusJSON(errs.HTTPStatus(errs.MalformedInput), body)
}
