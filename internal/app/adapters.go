package app

import (
	"strings"

	"github.com/glavox/glavox-server/internal/auth"
	"github.com/glavox/glavox-server/internal/cache"
	"github.com/glavox/glavox-server/internal/database"
	"github.com/glavox/glavox-server/internal/probe"
	"github.com/glavox/glavox-server/internal/store"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// SQLConfig maps the relational settings onto database.Config.
func (c DatabaseConfig) SQLConfig() database.Config {
	cfg := database.Config{
		Driver:          strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:            c.Path,
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
	var host DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql":
		host = c.MySQL
	}
	cfg.Host = host.Host
	cfg.Port = host.Port
	cfg.Name = host.Database
	cfg.User = host.Username
	cfg.Password = host.Password
	return cfg
}

// MongoStoreConfig maps the document store settings onto store.MongoConfig.
func (c DatabaseConfig) MongoStoreConfig() store.MongoConfig {
	return store.MongoConfig{
		URI:      strings.TrimSpace(c.MongoDB.URI),
		Database: c.MongoDB.Database,
		Timeout:  c.MongoDB.Timeout,
	}
}

// FFProbeConfig maps probe settings onto probe.Config.
func (c ProbeConfig) FFProbeConfig() probe.Config {
	return probe.Config{
		Binary:         c.Binary,
		Timeout:        c.Timeout,
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
	}
}

// JWTServiceConfig maps the bearer token settings onto auth.JWTConfig. Tokens
// are issued elsewhere; the server only validates them.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}
	return auth.JWTConfig{
		Secret:         strings.TrimSpace(c.JWT.Secret),
		Issuer:         strings.TrimSpace(c.JWT.Issuer),
		Audience:       c.JWT.Audience,
		AccessTokenTTL: ttl,
		Leeway:         c.JWT.Leeway,
	}
}
