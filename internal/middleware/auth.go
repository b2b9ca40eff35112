package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/glavox/glavox-server/internal/auth"
	"github.com/glavox/glavox-server/pkg/errors"
	"github.com/glavox/glavox-server/pkg/response"
)

// Context keys set by Auth.
const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
)

// Auth requires a valid bearer token on every request and records the caller's
// user id. Handlers compare it with the userId a request is about.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := authenticate(jwt, c.GetHeader("Authorization"))
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="glavox"`)
			response.Error(c, errors.ErrUnauthorized.WithInternal(err))
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Next()
	}
}

func authenticate(jwt *iauth.JWTService, header string) (*iauth.Claims, error) {
	token, err := iauth.BearerToken(header)
	if err != nil {
		return nil, err
	}
	return jwt.ValidateAccessToken(token)
}

// UserID returns the authenticated caller, or "" when auth is disabled.
func UserID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(CtxUserIDKey))
}
