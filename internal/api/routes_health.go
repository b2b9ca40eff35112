package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/glavox/glavox-server/internal/app"
	"github.com/glavox/glavox-server/internal/monitoring"
)

type healthEvaluator func(context.Context) monitoring.HealthReport

// registerHealthRoutes mounts the probes outside /api so orchestrators never
// need a token. /health is the readiness verdict without per-check detail.
func registerHealthRoutes(r *gin.Engine, cfg *app.Config, manager *monitoring.HealthManager) {
	routes := map[string]gin.HandlerFunc{
		"/health":       disabledHealthHandler,
		"/health/live":  disabledHealthHandler,
		"/health/ready": disabledHealthHandler,
	}
	if cfg.Monitoring.Health.Enabled && manager != nil {
		routes["/health"] = healthHandler(manager.EvaluateReadiness, false)
		routes["/health/live"] = healthHandler(manager.EvaluateLiveness, true)
		routes["/health/ready"] = healthHandler(manager.EvaluateReadiness, true)
	}
	for path, handler := range routes {
		r.GET(path, handler)
	}
}

func healthHandler(evaluate healthEvaluator, detailed bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := evaluate(c.Request.Context())
		status := http.StatusOK
		if !report.Success {
			status = http.StatusServiceUnavailable
		}

		body := gin.H{
			"success":    report.Success,
			"status":     report.Status,
			"checked_at": time.Now().UTC(),
		}
		if detailed {
			body["checks"] = report.Checks
		}
		c.JSON(status, body)
	}
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "status": "disabled"})
}
