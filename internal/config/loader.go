package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "AUTHCORE"

// Options controls where Load looks for configuration.
type Options struct {
	// Path is an explicit config file. When empty, authcore.yaml is searched
	// in ., ./configs and /etc/authcore, and a missing file is not an error.
	Path string
	// EnvFiles are loaded into the process environment before reading. A
	// missing file is skipped. Defaults to ".env".
	EnvFiles []string
}

// Load reads defaults, the config file and the environment, in increasing
// precedence, and validates the result.
func Load(opts Options) (*Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
	} else {
		v.SetConfigName("authcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/authcore")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.Path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AUTHCORE_* variables reach Unmarshal
// even without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "authcore")

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("store.max_open_conns", 20)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("store.conn_max_idle_time", 5*time.Minute)

	v.SetDefault("sentry.dsn", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.audit_topic", "authcore.audit")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.signing_method", "hs256")
	v.SetDefault("auth.issuer", "authcore")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.access_ttl", 24*time.Hour)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("auth.leeway", time.Duration(0))
	v.SetDefault("auth.refresh_pointer_ttl", 7*24*time.Hour)
	v.SetDefault("auth.atomic_rotation", false)
	v.SetDefault("auth.cache_fail_open", true)
	v.SetDefault("auth.login_throttle", true)
	v.SetDefault("auth.ip_throttle", false)
	v.SetDefault("auth.max_login_attempts", 5)
	v.SetDefault("auth.login_cooldown", 15*time.Minute)
	v.SetDefault("auth.default_role", "USER")
	v.SetDefault("auth.audit_enabled", true)
	v.SetDefault("auth.audit_buffer_size", 1024)
	v.SetDefault("auth.latency_histograms", false)
}
