package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/glavox/glavox-server/internal/api"
	"github.com/glavox/glavox-server/internal/app"
	iauth "github.com/glavox/glavox-server/internal/auth"
	"github.com/glavox/glavox-server/internal/cache"
	sharedtestutil "github.com/glavox/glavox-server/internal/database/testutil"
	"github.com/glavox/glavox-server/internal/handlers"
	"github.com/glavox/glavox-server/internal/middleware"
	"github.com/glavox/glavox-server/internal/monitoring"
	"github.com/glavox/glavox-server/internal/monitoring/checks"
	"github.com/glavox/glavox-server/internal/probe"
	"github.com/glavox/glavox-server/internal/services"
	"github.com/glavox/glavox-server/internal/storage"
	"github.com/glavox/glavox-server/internal/store"
	"github.com/glavox/glavox-server/pkg/response"
)

const jwtSecret = "test-suite-super-secret-key-32-bytes!!"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Store    *store.GormStore
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Uploads  *storage.UploadStore
	Prober   *FakeProber
	Tracking *services.TrackingService
	Sessions *services.SessionService
	Now      time.Time
}

// EnvOption customises NewEnv.
type EnvOption func(*envConfig)

type envConfig struct {
	auth           bool
	uploadLimit    int
	maxUploadBytes int64
	now            time.Time
}

// WithAuth requires bearer tokens on /api.
func WithAuth() EnvOption {
	return func(c *envConfig) { c.auth = true }
}

// WithUploadLimit caps update-speaking-time requests per minute.
func WithUploadLimit(n int) EnvOption {
	return func(c *envConfig) { c.uploadLimit = n }
}

// WithMaxUploadBytes overrides the audio size limit.
func WithMaxUploadBytes(n int64) EnvOption {
	return func(c *envConfig) { c.maxUploadBytes = n }
}

// WithNow fixes the service clock.
func WithNow(now time.Time) EnvOption {
	return func(c *envConfig) { c.now = now }
}

// FakeProber returns a fixed duration for every file unless told otherwise.
type FakeProber struct {
	mu      sync.Mutex
	seconds float64
	err     error
	calls   int
}

// Set changes the duration and error returned by later probes.
func (p *FakeProber) Set(seconds float64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seconds = seconds
	p.err = err
}

// Calls returns how many files were probed.
func (p *FakeProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *FakeProber) Duration(_ context.Context, _ string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.seconds, p.err
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	settings := envConfig{
		maxUploadBytes: storage.DefaultMaxBytes,
		now:            time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&settings)
	}
	clock := func() time.Time { return settings.now }

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	st, err := store.NewGormStore(db)
	require.NoError(t, err)

	uploads, err := storage.NewUploadStore(t.TempDir(), storage.WithMaxBytes(settings.maxUploadBytes))
	require.NoError(t, err)

	prober := &FakeProber{seconds: 3}
	cacheStore := cache.NewDatabaseStore(db)
	sessionProber, err := probe.NewSessionProber(prober, uploads, probe.WithCache(cacheStore, time.Minute))
	require.NoError(t, err)

	sessionSvc, err := services.NewSessionService(st,
		services.WithSessionClock(clock),
		services.WithWeekLocation(time.UTC),
	)
	require.NoError(t, err)

	trackingSvc, err := services.NewTrackingService(st,
		services.WithTrackingClock(clock),
		services.WithUploads(uploads, prober),
		services.WithSpeakingTimer(sessionProber),
	)
	require.NoError(t, err)

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Enabled: settings.auth,
				Secret:  jwtSecret,
				Issuer:  "test-suite",
				TTL:     time.Hour,
			},
		},
		RateLimit: app.RateLimitConfig{
			Upload: app.RateLimitRule{Requests: settings.uploadLimit, Window: time.Minute},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	health := monitoring.NewHealthManager(time.Second)
	health.RegisterReadiness(checks.Store("sqlite", st, 0))

	rateStore := middleware.NewMemoryRateStore()
	t.Cleanup(rateStore.Close)

	router, err := api.NewRouter(api.Deps{
		Config:    cfg,
		Tracking:  handlers.NewTrackingHandler(trackingSvc, uploads.MaxBytes()),
		Sessions:  handlers.NewSessionHandler(sessionSvc),
		JWT:       jwtSvc,
		Health:    health,
		RateStore: rateStore,
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Store:    st,
		Router:   router,
		JWT:      jwtSvc,
		Uploads:  uploads,
		Prober:   prober,
		Tracking: trackingSvc,
		Sessions: sessionSvc,
		Now:      settings.now,
	}
}

// Token issues an access token for userID.
func (e *Env) Token(userID string) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// DecodeBody unmarshals the whole body, for endpoints that answer without the envelope.
func DecodeBody[T any](t *testing.T, w *httptest.ResponseRecorder, dest *T) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.serve(req, token)
}

// Upload describes a multipart update-speaking-time request.
type Upload struct {
	Fields      map[string]string
	FileName    string
	ContentType string
	Content     []byte
	// OmitFile sends the form without an audio part.
	OmitFile bool
}

// Upload posts a multipart form to path.
func (e *Env) Upload(path string, upload Upload, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range upload.Fields {
		require.NoError(e.T, writer.WriteField(k, v))
	}
	if !upload.OmitFile {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="audio"; filename="`+upload.FileName+`"`)
		contentType := upload.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		require.NoError(e.T, err)
		_, err = part.Write(upload.Content)
		require.NoError(e.T, err)
	}
	require.NoError(e.T, writer.Close())

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	require.NoError(e.T, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return e.serve(req, token)
}

func (e *Env) serve(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
