// Command authcore-server serves the authcore HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smartportfolio/authcore"
	"github.com/smartportfolio/authcore/audit/kafkasink"
	"github.com/smartportfolio/authcore/internal/config"
	"github.com/smartportfolio/authcore/internal/httpapi"
	"github.com/smartportfolio/authcore/internal/logging"
	"github.com/smartportfolio/authcore/internal/observability"
	promexport "github.com/smartportfolio/authcore/metrics/export/prometheus"
	"github.com/smartportfolio/authcore/store/memory"
	"github.com/smartportfolio/authcore/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment")
	flag.Parse()

	cfg, err := config.Load(config.Options{Path: *configPath, EnvFiles: []string{*envFile}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := observability.InitSentry(cfg.Sentry.DSN, cfg.Env, version); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer observability.FlushSentry()

	rdb := redis.NewUniversalClient(cfg.Redis.Options())
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The engine fails open on cache writes; startup only warns.
		logger.Warn("redis ping failed", zap.Strings("addrs", cfg.Redis.Addrs), zap.Error(err))
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	builder := authcore.New().
		WithConfig(cfg.Engine()).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithLogger(logger).
		WithDegradedReporter(observability.NewSentryReporter(nil))

	var auditSink io.Closer
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := kafkasink.New(kafkasink.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.AuditTopic,
			Source:  "authcore-server",
		}, logger)
		if err != nil {
			return fmt.Errorf("kafka audit sink: %w", err)
		}
		auditSink = sink
		builder.WithAuditSink(sink)
		logger.Info("kafka audit sink enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.AuditTopic),
		)
	}

	engine, err := buildEngine(builder, auditSink, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewCollector(engine),
	)

	router, err := httpapi.NewRouter(httpapi.Options{
		Service:        engine,
		Logger:         logger,
		Registerer:     registry,
		Gatherer:       registry,
		SentryHub:      sentry.CurrentHub(),
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildEngine builds the engine and closes auditSink if the build fails.
// After a successful build [authcore.Engine.Close] owns the sink.
func buildEngine(builder *authcore.Builder, auditSink io.Closer, logger *zap.Logger) (*authcore.Engine, error) {
	engine, err := builder.Build()
	if err != nil {
		if auditSink != nil {
			if cerr := auditSink.Close(); cerr != nil {
				logger.Warn("audit sink close failed", zap.Error(cerr))
			}
		}
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return engine, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (authcore.CredentialStore, func(), error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Store.DSN, cfg.Store.Pool())
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Store.AutoMigrate {
			logger.Info("running database migrations")
			if err := postgres.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		return postgres.New(db), func() { _ = db.Close() }, nil
	default:
		logger.Warn("using in-memory credential store; accounts are lost on restart")
		return memory.New(), func() {}, nil
	}
}
