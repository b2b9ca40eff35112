package middleware

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig lists the browser origins allowed to call the API. The mobile
// client does not need CORS; the web dashboard does.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// CORS builds the gin-contrib/cors handler. An empty origin list or "*" allows any origin.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", HeaderRequestID},
		ExposeHeaders:    []string{HeaderRequestID, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
	if conf.MaxAge <= 0 {
		conf.MaxAge = 12 * time.Hour
	}

	if len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*") {
		conf.AllowAllOrigins = true
		// credentials cannot be combined with a wildcard origin
		conf.AllowCredentials = false
	} else {
		conf.AllowOrigins = cfg.AllowedOrigins
	}

	return cors.New(conf)
}
