package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/glavox/glavox-server/internal/app"
	iauth "github.com/glavox/glavox-server/internal/auth"
	"github.com/glavox/glavox-server/internal/handlers"
	"github.com/glavox/glavox-server/internal/monitoring"
)

func testConfig() *app.Config {
	return &app.Config{
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
}

// Handlers are never reached by these tests; middleware and routing answer first.
func testDeps(cfg *app.Config, health *monitoring.HealthManager) Deps {
	return Deps{
		Config:   cfg,
		Tracking: handlers.NewTrackingHandler(nil, 0),
		Sessions: handlers.NewSessionHandler(nil),
		Health:   health,
	}
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestNewRouterValidatesDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)

	if _, err := NewRouter(Deps{}); err == nil {
		t.Fatal("expected error without config")
	}

	deps := testDeps(testConfig(), nil)
	deps.Sessions = nil
	if _, err := NewRouter(deps); err == nil {
		t.Fatal("expected error without session handler")
	}

	cfg := testConfig()
	cfg.Auth.JWT.Enabled = true
	if _, err := NewRouter(testDeps(cfg, nil)); err == nil {
		t.Fatal("expected error when auth is enabled without a jwt service")
	}
}

func TestRouter_HealthEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)

	manager := monitoring.NewHealthManager(time.Second)
	manager.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Component: "process", Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("store:sqlite", func(context.Context) monitoring.ProbeResult {
		return monitoring.ResultFromError("store:sqlite", errors.New("database is locked"), 0)
	}))

	router, err := NewRouter(testDeps(testConfig(), manager))
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	if w := serve(router, http.MethodGet, "/health/live"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for /health/live, got %d: %s", w.Code, w.Body.String())
	}

	w := serve(router, http.MethodGet, "/health/ready")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for /health/ready, got %d", w.Code)
	}
	var report struct {
		Success bool                     `json:"success"`
		Status  string                   `json:"status"`
		Checks  []monitoring.ProbeResult `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode readiness: %v", err)
	}
	if report.Success || report.Status != "down" || len(report.Checks) != 1 {
		t.Fatalf("unexpected readiness report: %+v", report)
	}

	if w := serve(router, http.MethodGet, "/health"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for /health, got %d", w.Code)
	}
}

func TestRouter_HealthDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	cfg.Monitoring.Health.Enabled = false
	router, err := NewRouter(testDeps(cfg, monitoring.NewHealthManager(0)))
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	if w := serve(router, http.MethodGet, "/health"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when health is disabled, got %d", w.Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, err := NewRouter(testDeps(testConfig(), nil))
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	w := serve(router, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for /metrics, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("expected default collectors in metrics output")
	}

	cfg := testConfig()
	cfg.Monitoring.Prometheus.Enabled = false
	router, err = NewRouter(testDeps(cfg, nil))
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	if w := serve(router, http.MethodGet, "/metrics"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for /metrics when disabled, got %d", w.Code)
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, err := NewRouter(testDeps(testConfig(), nil))
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	w := serve(router, http.MethodGet, "/api/nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"NOT_FOUND"`) {
		t.Fatalf("expected JSON error body, got %s", w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}

	w = serve(router, http.MethodGet, "/api/tracking/start-chat")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestRouter_ProtectedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "test", AccessTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("jwt service: %v", err)
	}

	cfg := testConfig()
	cfg.Auth.JWT.Enabled = true
	deps := testDeps(cfg, nil)
	deps.JWT = jwtSvc

	router, err := NewRouter(deps)
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	for _, path := range []string{
		"/api/tracking/analytics/user-1",
		"/api/sessions/weekly/user-1",
		"/api/tracking/session/abc/speaking-time",
	} {
		if w := serve(router, http.MethodGet, path); w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s without token, got %d", path, w.Code)
		}
	}

	// health sits outside the token check
	if w := serve(router, http.MethodGet, "/health"); w.Code != http.StatusNotFound {
		t.Fatalf("expected the disabled health handler without a manager, got %d", w.Code)
	}
}
