package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/glavox/glavox-server/pkg/errors"
	"github.com/glavox/glavox-server/pkg/logger"
	"github.com/glavox/glavox-server/pkg/response"
)

var errMethodNotAllowed = errors.New("METHOD_NOT_ALLOWED", "Method not allowed", http.StatusMethodNotAllowed)

// Recovery turns a handler panic into a 500 envelope. A panic after the
// response started only aborts the chain.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.WithModule("http").Error("handler panicked",
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.String("request_id", c.GetString(CtxRequestIDKey)),
				zap.String("user_id", UserID(c)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			if !c.Writer.Written() {
				response.Error(c, errors.ErrInternalServer)
			}
			c.Abort()
		}()
		c.Next()
	}
}

// NotFoundHandler renders unknown routes in the API error envelope.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.NewNotFound(fmt.Sprintf("no route for %s %s", c.Request.Method, c.Request.URL.Path)))
}

// MethodNotAllowedHandler renders 405 in the API error envelope.
func MethodNotAllowedHandler(c *gin.Context) {
	response.Error(c, errMethodNotAllowed)
}
