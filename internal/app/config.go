package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/glavox/glavox-server/pkg/timefmt"
)

// Config represents the runtime configuration for the GLAVOX tracking backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Probe       ProbeConfig       `mapstructure:"probe"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Analytics   AnalyticsConfig   `mapstructure:"analytics"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies    []string      `mapstructure:"trusted_proxies"`
	// HSTS adds Strict-Transport-Security; leave off while clients reach the
	// server over plain HTTP on a LAN.
	HSTS bool       `mapstructure:"hsts"`
	CORS CORSConfig `mapstructure:"cors"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// DatabaseConfig selects the tracking store: a gorm driver (sqlite, postgres,
// mysql) or mongodb.
type DatabaseConfig struct {
	Driver   string        `mapstructure:"driver"`
	Path     string        `mapstructure:"path"`
	DSN      string        `mapstructure:"dsn"`
	Postgres DBAuthConfig  `mapstructure:"postgres"`
	MySQL    DBAuthConfig  `mapstructure:"mysql"`
	MongoDB  MongoDBConfig `mapstructure:"mongodb"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MongoDBConfig holds the document store connection.
type MongoDBConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StorageConfig describes where uploaded speaking audio is kept.
type StorageConfig struct {
	UploadsDir      string   `mapstructure:"uploads_dir"`
	MaxUploadBytes  int64    `mapstructure:"max_upload_bytes"`
	AudioExtensions []string `mapstructure:"audio_extensions"`
}

// ProbeConfig tunes ffprobe invocations.
type ProbeConfig struct {
	Binary         string        `mapstructure:"binary"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	Concurrency    int           `mapstructure:"concurrency"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// CacheConfig describes cache backends. Without Redis the SQL database backs
// the cache; with mongodb and no Redis, caching is off.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures authentication settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures bearer token validation on /api.
type JWTSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"access_token_ttl"`
	Leeway   time.Duration `mapstructure:"leeway"`
}

// AnalyticsConfig controls the weekly window and the active-session check.
type AnalyticsConfig struct {
	WeekTimezone string        `mapstructure:"week_timezone"`
	ActiveWindow time.Duration `mapstructure:"active_window"`
}

// RateLimitConfig bounds audio uploads per user (or client IP without auth).
type RateLimitConfig struct {
	Upload RateLimitRule `mapstructure:"upload"`
}

// RateLimitRule is a fixed-window limit. Zero requests disables it.
type RateLimitRule struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	SessionSchedule   string        `mapstructure:"session_schedule"`
	StaleSessionAfter time.Duration `mapstructure:"stale_session_after"`
	StaleBatchSize    int           `mapstructure:"stale_batch_size"`
	UploadSchedule    string        `mapstructure:"upload_schedule"`
	OrphanUploadGrace time.Duration `mapstructure:"orphan_upload_grace"`
	CacheSchedule     string        `mapstructure:"cache_schedule"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"` // otlp | stdout
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("GLAVOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	var errs error
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres", "postgresql", "mysql":
	case "mongodb", "mongo":
		if strings.TrimSpace(c.Database.MongoDB.URI) == "" {
			errs = multierr.Append(errs, errors.New("database.mongodb.uri is required for the mongodb driver"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Auth.JWT.Enabled && strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		errs = multierr.Append(errs, errors.New("auth.jwt.secret is required when auth.jwt.enabled"))
	}
	if strings.TrimSpace(c.Storage.UploadsDir) == "" {
		errs = multierr.Append(errs, errors.New("storage.uploads_dir is required"))
	}
	if _, err := c.Analytics.WeekLocation(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("analytics.week_timezone: %w", err))
	}
	if errs != nil {
		return fmt.Errorf("config: %w", errs)
	}
	return nil
}

// WeekLocation resolves the zone whose Monday midnight starts a week. Empty
// means the server's local zone; "IST" is the fixed display zone.
func (c AnalyticsConfig) WeekLocation() (*time.Location, error) {
	switch name := strings.TrimSpace(c.WeekTimezone); name {
	case "", "Local":
		return time.Local, nil
	case timefmt.RegionalLabel:
		return timefmt.RegionalZone(), nil
	default:
		return time.LoadLocation(name)
	}
}

// UsesMongo reports whether the document store backs tracking data.
func (c DatabaseConfig) UsesMongo() bool {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	return driver == "mongodb" || driver == "mongo"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.hsts", false)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/glavox.sqlite")
	v.SetDefault("database.mongodb.database", "glavox")
	v.SetDefault("database.mongodb.timeout", "10s")

	v.SetDefault("storage.uploads_dir", "./uploads")
	v.SetDefault("storage.max_upload_bytes", 10<<20)
	v.SetDefault("storage.audio_extensions", []string{".m4a", ".mp3", ".wav", ".aac", ".ogg", ".webm", ".3gp", ".caf"})

	v.SetDefault("probe.binary", "ffprobe")
	v.SetDefault("probe.timeout", "15s")
	v.SetDefault("probe.max_attempts", 3)
	v.SetDefault("probe.initial_backoff", "200ms")
	v.SetDefault("probe.concurrency", 4)
	v.SetDefault("probe.cache_ttl", "10m")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.enabled", false)
	v.SetDefault("auth.jwt.access_token_ttl", "24h")
	v.SetDefault("auth.jwt.leeway", "30s")

	v.SetDefault("analytics.week_timezone", "")
	v.SetDefault("analytics.active_window", "30m")

	v.SetDefault("rate_limit.upload.requests", 120)
	v.SetDefault("rate_limit.upload.window", "1m")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.session_schedule", "@hourly")
	v.SetDefault("maintenance.stale_session_after", "12h")
	v.SetDefault("maintenance.stale_batch_size", 500)
	v.SetDefault("maintenance.upload_schedule", "@daily")
	v.SetDefault("maintenance.orphan_upload_grace", "24h")
	v.SetDefault("maintenance.cache_schedule", "@every 30m")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.health_check.timeout", "3s")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "glavox-server")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
