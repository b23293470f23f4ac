// Package config loads the authcore-server configuration from a YAML file,
// a .env file and AUTHCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartportfolio/authcore"
	"github.com/smartportfolio/authcore/store/postgres"
)

type Config struct {
	Env    string       `mapstructure:"env"`
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Store  StoreConfig  `mapstructure:"store"`
	Sentry SentryConfig `mapstructure:"sentry"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Auth   AuthConfig   `mapstructure:"auth"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Prefix   string   `mapstructure:"prefix"`
}

// Options converts the settings for redis.NewUniversalClient. A single
// address yields a plain client, several a cluster client.
func (c RedisConfig) Options() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:    append([]string(nil), c.Addrs...),
		Password: c.Password,
		DB:       c.DB,
	}
}

// StoreConfig selects the credential store. Driver is "postgres" or
// "memory".
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

func (c StoreConfig) Pool() postgres.PoolConfig {
	return postgres.PoolConfig{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// KafkaConfig enables the Kafka audit sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic"`
}

type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	SigningMethod     string        `mapstructure:"signing_method"`
	Issuer            string        `mapstructure:"issuer"`
	Audience          string        `mapstructure:"audience"`
	AccessTTL         time.Duration `mapstructure:"access_ttl"`
	RefreshTTL        time.Duration `mapstructure:"refresh_ttl"`
	Leeway            time.Duration `mapstructure:"leeway"`
	RefreshPointerTTL time.Duration `mapstructure:"refresh_pointer_ttl"`
	AtomicRotation    bool          `mapstructure:"atomic_rotation"`
	CacheFailOpen     bool          `mapstructure:"cache_fail_open"`
	LoginThrottle     bool          `mapstructure:"login_throttle"`
	IPThrottle        bool          `mapstructure:"ip_throttle"`
	MaxLoginAttempts  int           `mapstructure:"max_login_attempts"`
	LoginCooldown     time.Duration `mapstructure:"login_cooldown"`
	DefaultRole       string        `mapstructure:"default_role"`
	AuditEnabled      bool          `mapstructure:"audit_enabled"`
	AuditBufferSize   int           `mapstructure:"audit_buffer_size"`
	LatencyHistograms bool          `mapstructure:"latency_histograms"`
}

// Production reports whether Env names a production deployment.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if len(c.Redis.Addrs) == 0 {
		errs = append(errs, errors.New("redis.addrs is required"))
	}
	switch strings.ToLower(c.Store.Driver) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic == "" {
		errs = append(errs, errors.New("kafka.audit_topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

// Engine maps the auth settings onto an engine configuration, starting from
// [authcore.DefaultConfig].
func (c *Config) Engine() authcore.Config {
	cfg := authcore.DefaultConfig()

	a := c.Auth
	cfg.JWT.PrivateKey = []byte(a.JWTSecret)
	if a.SigningMethod != "" {
		cfg.JWT.SigningMethod = a.SigningMethod
	}
	if a.Issuer != "" {
		cfg.JWT.Issuer = a.Issuer
	}
	cfg.JWT.Audience = a.Audience
	if a.AccessTTL > 0 {
		cfg.JWT.AccessTTL = a.AccessTTL
	}
	if a.RefreshTTL > 0 {
		cfg.JWT.RefreshTTL = a.RefreshTTL
	}
	cfg.JWT.Leeway = a.Leeway

	if c.Redis.Prefix != "" {
		cfg.Session.RedisPrefix = c.Redis.Prefix
	}
	if a.RefreshPointerTTL > 0 {
		cfg.Session.RefreshPointerTTL = a.RefreshPointerTTL
	}
	cfg.Session.AtomicRotation = a.AtomicRotation
	cfg.Cache.FailOpen = a.CacheFailOpen

	cfg.Security.ProductionMode = c.Production()
	cfg.Security.EnableLoginThrottle = a.LoginThrottle
	cfg.Security.EnableIPThrottle = a.IPThrottle
	if a.MaxLoginAttempts > 0 {
		cfg.Security.MaxLoginAttempts = a.MaxLoginAttempts
	}
	if a.LoginCooldown > 0 {
		cfg.Security.LoginCooldownDuration = a.LoginCooldown
	}

	if a.DefaultRole != "" {
		cfg.Account.DefaultRole = a.DefaultRole
	}
	cfg.Audit.Enabled = a.AuditEnabled
	if a.AuditBufferSize > 0 {
		cfg.Audit.BufferSize = a.AuditBufferSize
	}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = a.LatencyHistograms
	return cfg
}
