package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/glavox/glavox-server/internal/middleware"
	appErrors "github.com/glavox/glavox-server/pkg/errors"
	"github.com/glavox/glavox-server/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// authorizeUser rejects requests about another user when the caller is
// authenticated. Unauthenticated deployments pass through.
func authorizeUser(c *gin.Context, userID string) bool {
	caller := middleware.UserID(c)
	if caller == "" || caller == strings.TrimSpace(userID) {
		return true
	}
	response.Error(c, appErrors.ErrForbidden)
	return false
}

// pathParam returns a trimmed path parameter or writes a validation error.
func pathParam(c *gin.Context, name string) (string, bool) {
	value := strings.TrimSpace(c.Param(name))
	if value == "" {
		response.Error(c, appErrors.NewValidation(name+" is required"))
		return "", false
	}
	return value, true
}
