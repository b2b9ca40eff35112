package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/glavox/glavox-server/internal/services"
	appErrors "github.com/glavox/glavox-server/pkg/errors"
	"github.com/glavox/glavox-server/pkg/logger"
	"github.com/glavox/glavox-server/pkg/response"
)

// respondError translates service errors into API errors. Anything not
// caused by the caller is logged with its detail and reported generically.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTrackingNotFound):
		response.Error(c, appErrors.NewNotFound("Tracking record not found"))
	case errors.Is(err, services.ErrSessionNotFound):
		response.Error(c, appErrors.NewNotFound("Session not found"))
	case errors.Is(err, services.ErrUploadTooLarge):
		response.Error(c, appErrors.ErrPayloadTooLarge)
	case errors.Is(err, services.ErrInvalidInput):
		response.Error(c, appErrors.NewValidation(validationMessage(err)))
	default:
		logger.WithModule("http").Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.Error(c, appErrors.NewDependency(err))
	}
}

func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, services.ErrInvalidInput.Error()+": "); i >= 0 {
		msg = msg[i+len(services.ErrInvalidInput.Error())+2:]
	}
	if msg == "" {
		return "Request validation failed"
	}
	return msg
}
