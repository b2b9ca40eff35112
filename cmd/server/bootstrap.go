package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/glavox/glavox-server/internal/api"
	"github.com/glavox/glavox-server/internal/app"
	"github.com/glavox/glavox-server/internal/app/maintenance"
	iauth "github.com/glavox/glavox-server/internal/auth"
	"github.com/glavox/glavox-server/internal/cache"
	"github.com/glavox/glavox-server/internal/database"
	"github.com/glavox/glavox-server/internal/handlers"
	"github.com/glavox/glavox-server/internal/middleware"
	"github.com/glavox/glavox-server/internal/monitoring"
	"github.com/glavox/glavox-server/internal/monitoring/checks"
	"github.com/glavox/glavox-server/internal/observability"
	"github.com/glavox/glavox-server/internal/probe"
	"github.com/glavox/glavox-server/internal/services"
	"github.com/glavox/glavox-server/internal/storage"
	"github.com/glavox/glavox-server/internal/store"
	"github.com/glavox/glavox-server/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	Store     store.Store
	Redis     *cache.RedisStore
	Cache     cache.Store
	Uploads   *storage.UploadStore
	Jobs      *monitoring.JobTracker
	Cleaner   *maintenance.Cleaner
	RateStore middleware.RateStore
	Router    *gin.Engine

	memoryRates     *middleware.MemoryRateStore
	shutdownTracing observability.ShutdownFunc
}

// bootstrapRuntime initialises storage, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.shutdownTracing, err = observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise tracing: %w", err)
	}

	var db *gorm.DB
	stack.Store, db, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	var dbCache *cache.DatabaseStore
	if db != nil {
		dbCache = cache.NewDatabaseStore(db)
	}
	switch {
	case stack.Redis != nil:
		stack.Cache = stack.Redis
	case dbCache != nil:
		stack.Cache = dbCache
	default:
		log.Info("speaking-time cache disabled")
	}

	stack.Uploads, err = storage.NewUploadStore(cfg.Storage.UploadsDir,
		storage.WithMaxBytes(cfg.Storage.MaxUploadBytes),
		storage.WithAudioExtensions(cfg.Storage.AudioExtensions),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise upload store: %w", err)
	}

	ffprobe := probe.NewFFProbe(cfg.Probe.FFProbeConfig())
	if err := ffprobe.LookPath(); err != nil {
		log.Warn("ffprobe not found; speaking time will exclude unprobed audio", zap.Error(err))
	}

	proberOpts := []probe.SessionOption{probe.WithConcurrency(cfg.Probe.Concurrency)}
	if stack.Cache != nil {
		proberOpts = append(proberOpts, probe.WithCache(stack.Cache, cfg.Probe.CacheTTL))
	}
	sessionProber, err := probe.NewSessionProber(ffprobe, stack.Uploads, proberOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise session prober: %w", err)
	}

	weekLocation, err := cfg.Analytics.WeekLocation()
	if err != nil {
		return nil, fmt.Errorf("resolve week timezone: %w", err)
	}

	sessionSvc, err := services.NewSessionService(stack.Store,
		services.WithWeekLocation(weekLocation),
		services.WithActiveWindow(cfg.Analytics.ActiveWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	trackingSvc, err := services.NewTrackingService(stack.Store,
		services.WithUploads(stack.Uploads, ffprobe),
		services.WithSpeakingTimer(sessionProber),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise tracking service: %w", err)
	}

	var jwtSvc *iauth.JWTService
	if cfg.Auth.JWT.Enabled {
		jwtSvc, err = iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise jwt service: %w", err)
		}
	}

	stack.Jobs = monitoring.NewJobTracker()
	if cfg.Maintenance.Enabled {
		opts := []maintenance.Option{
			maintenance.WithTracker(stack.Jobs),
			maintenance.WithSchedules(cfg.Maintenance.SessionSchedule, cfg.Maintenance.UploadSchedule, cfg.Maintenance.CacheSchedule),
			maintenance.WithStaleSessions(sessionSvc, cfg.Maintenance.StaleSessionAfter, cfg.Maintenance.StaleBatchSize),
			maintenance.WithOrphanUploads(stack.Uploads, stack.Store, cfg.Maintenance.OrphanUploadGrace),
		}
		if dbCache != nil {
			opts = append(opts, maintenance.WithCachePruning(dbCache))
		}
		stack.Cleaner = maintenance.NewCleaner(opts...)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	switch {
	case stack.Cache != nil:
		stack.RateStore = middleware.NewCacheRateStore(stack.Cache)
	default:
		stack.memoryRates = middleware.NewMemoryRateStore()
		stack.RateStore = stack.memoryRates
	}

	stack.Router, err = api.NewRouter(api.Deps{
		Config:    cfg,
		Tracking:  handlers.NewTrackingHandler(trackingSvc, stack.Uploads.MaxBytes()),
		Sessions:  handlers.NewSessionHandler(sessionSvc),
		JWT:       jwtSvc,
		Health:    stack.healthManager(cfg, ffprobe),
		RateStore: stack.RateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func (s *runtimeStack) healthManager(cfg *app.Config, ffprobe *probe.FFProbe) *monitoring.HealthManager {
	manager := monitoring.NewHealthManager(cfg.Monitoring.Health.Timeout)

	manager.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Component: "process", Status: monitoring.StatusUp}
	}))

	manager.RegisterReadiness(checks.Store(storeDriver(cfg), s.Store, 0))

	var redis checks.Pinger
	if s.Redis != nil {
		redis = s.Redis
	}
	manager.RegisterReadiness(checks.Redis(redis, cfg.Cache.Redis.Enabled, cfg.Cache.Redis.Timeout))
	manager.RegisterReadiness(checks.FFProbe(ffprobe))
	manager.RegisterReadiness(checks.UploadDir(s.Uploads.Root()))
	if s.Cleaner != nil {
		// the slowest default schedule is daily
		manager.RegisterReadiness(checks.Maintenance(s.Jobs, 25*time.Hour, nil))
	}
	return manager
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.memoryRates != nil {
		s.memoryRates.Close()
	}

	if s.Redis != nil {
		errs = multierr.Append(errs, wrapClose("redis", s.Redis.Close()))
	}

	if s.Store != nil {
		errs = multierr.Append(errs, wrapClose("store", s.Store.Close(ctx)))
	}

	if s.shutdownTracing != nil {
		errs = multierr.Append(errs, wrapClose("tracing", s.shutdownTracing(ctx)))
	}

	if errs != nil {
		log.Warn("runtime shutdown incomplete", zap.Error(errs))
	}
	return errs
}

func wrapClose(component string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("close %s: %w", component, err)
}

// openStore returns the tracking store and, for SQL drivers, the gorm handle
// shared with the database cache.
func openStore(ctx context.Context, cfg *app.Config) (store.Store, *gorm.DB, error) {
	log := logger.WithModule("database")

	if cfg.Database.UsesMongo() {
		st, err := store.NewMongoStore(ctx, cfg.Database.MongoStoreConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("open mongodb: %w", err)
		}
		log.Info("database connected", zap.String("driver", "mongodb"))
		return st, nil, nil
	}

	dbCfg := cfg.Database.SQLConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	st, err := store.NewGormStore(db)
	if err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}

	log.Info("database connected", zap.String("driver", dbCfg.Driver))
	return st, db, nil
}

func storeDriver(cfg *app.Config) string {
	if cfg.Database.UsesMongo() {
		return "mongodb"
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if driver == "" {
		return "sqlite"
	}
	return driver
}

// shutdownContext bounds the final cleanup so a hung dependency cannot block exit.
func shutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}
