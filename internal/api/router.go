package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/glavox/glavox-server/internal/app"
	iauth "github.com/glavox/glavox-server/internal/auth"
	"github.com/glavox/glavox-server/internal/handlers"
	"github.com/glavox/glavox-server/internal/middleware"
	"github.com/glavox/glavox-server/internal/monitoring"
)

// Deps carries everything the router wires into routes.
type Deps struct {
	Config   *app.Config
	Tracking *handlers.TrackingHandler
	Sessions *handlers.SessionHandler
	// JWT is required when auth.jwt.enabled is set.
	JWT    *iauth.JWTService
	Health *monitoring.HealthManager
	// RateStore backs the upload limiter; nil disables it.
	RateStore middleware.RateStore
}

// NewRouter builds the Gin engine with all routes and middleware.
func NewRouter(deps Deps) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("router: config is required")
	}
	if deps.Tracking == nil || deps.Sessions == nil {
		return nil, errors.New("router: tracking and session handlers are required")
	}
	if cfg.Auth.JWT.Enabled && deps.JWT == nil {
		return nil, errors.New("router: jwt service is required when auth is enabled")
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}

	if cfg.Tracing.Enabled {
		serviceName := cfg.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "glavox-server"
		}
		r.Use(otelgin.Middleware(serviceName))
	}

	r.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.Metrics(),
		middleware.SecurityHeaders(cfg.Server.HSTS),
		middleware.CORS(middleware.CORSConfig{
			AllowedOrigins:   cfg.Server.CORS.AllowedOrigins,
			AllowCredentials: cfg.Server.CORS.AllowCredentials,
		}),
	)

	registerHealthRoutes(r, cfg, deps.Health)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	if cfg.Auth.JWT.Enabled {
		api.Use(middleware.Auth(deps.JWT))
	}

	uploadLimit := middleware.RateLimit(
		deps.RateStore,
		cfg.RateLimit.Upload.Requests,
		defaultDuration(cfg.RateLimit.Upload.Window, time.Minute),
		middleware.UserOrIPKey,
	)

	registerTrackingRoutes(api, deps.Tracking, uploadLimit)
	registerSessionRoutes(api, deps.Sessions)

	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	return r, nil
}

func defaultDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
