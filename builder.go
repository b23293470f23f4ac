package authcore

import (
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	internalaudit "github.com/smartportfolio/authcore/internal/audit"
	"github.com/smartportfolio/authcore/internal/rate"
	"github.com/smartportfolio/authcore/jwt"
	"github.com/smartportfolio/authcore/password"
	"github.com/smartportfolio/authcore/session"
)

// Builder assembles an [Engine] from a [Config] and its collaborators.
//
// A Builder is configured during initialization and built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	cache  session.Cache

	credentials CredentialStore
	roles       RoleStore
	auditSink   AuditSink
	logger      *zap.Logger
	degraded    DegradedReporter
	clock       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client behind the session cache and the login limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSessionCache overrides the Redis-backed session cache. Login
// throttling still needs [Builder.WithRedis].
func (b *Builder) WithSessionCache(cache session.Cache) *Builder {
	b.cache = cache
	return b
}

// WithCredentialStore sets where principals are persisted. If the store
// also implements [RoleStore] it is used for roles unless
// [Builder.WithRoleStore] says otherwise.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

// WithRoleStore sets the store that resolves the default role at registration.
func (b *Builder) WithRoleStore(store RoleStore) *Builder {
	b.roles = store
	return b
}

// WithAuditSink sets where audit events go. Events are only produced when
// Audit.Enabled is set; a sink implementing io.Closer is closed by
// [Engine.Close].
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Nil keeps the no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithDegradedReporter registers a hook for fail-open cache writes.
func (b *Builder) WithDegradedReporter(r DegradedReporter) *Builder {
	b.degraded = r
	return b
}

// WithClock overrides time.Now for token timestamps and audit events.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready [Engine]. A Builder
// can be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	roles := b.roles
	if roles == nil {
		rs, ok := b.credentials.(RoleStore)
		if !ok {
			return nil, errors.New("role store required")
		}
		roles = rs
	}

	// -------- SESSION CACHE --------
	cache := b.cache
	if cache == nil {
		if b.redis == nil {
			return nil, errors.New("redis client required")
		}
		cache = session.NewStore(b.redis, cfg.Session.RedisPrefix)
	}

	// -------- LOGIN THROTTLE --------
	var limiter *rate.Limiter
	if cfg.Security.EnableLoginThrottle {
		if b.redis == nil {
			return nil, errors.New("login throttle requires redis client")
		}
		limiter = rate.New(b.redis, rate.Config{
			Prefix:                cfg.Session.RedisPrefix,
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
		})
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:             cfg.Password.Memory,
		Time:               cfg.Password.Time,
		Parallelism:        cfg.Password.Parallelism,
		SaltLength:         cfg.Password.SaltLength,
		KeyLength:          cfg.Password.KeyLength,
		MaxPasswordBytes:   cfg.Password.MaxPasswordBytes,
		AcceptLegacyBcrypt: cfg.Password.AcceptLegacyBcrypt,
	})
	if err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(strings.ToLower(strings.TrimSpace(cfg.JWT.SigningMethod))),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:       cfg,
		credentials:  b.credentials,
		roles:        roles,
		cache:        cache,
		rateLimiter:  limiter,
		metrics:      NewMetrics(cfg.Metrics),
		passwordHash: ph,
		jwtManager:   jm,
		logger:       logger.Named("authcore"),
		degraded:     b.degraded,
		clock:        clock,
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.flow = engine.buildFlows()

	b.built = true

	return engine, nil
}
