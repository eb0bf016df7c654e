package middleware

import (
	"errors"
	"net/http"

	"payout-engine/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last handler error. BaseErrors map to their HTTP status;
// anything else is a 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var be errutil.BaseError
		if !errors.As(err, &be) {
			zap.L().Error("unhandled request error", zap.String("path", c.FullPath()), zap.Error(err))
			be = errutil.BaseError{Code: errutil.StatusInternal, Message: http.StatusText(http.StatusInternalServerError)}
		}

		status := be.Code.HTTPStatus()
		if status >= http.StatusInternalServerError {
			zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
		}
		c.AbortWithStatusJSON(status, be.Public().JSON())
	}
}
