package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	dirstore "quotaguard/internal/directory/store"
	"quotaguard/internal/platform/config"
	"quotaguard/internal/platform/database"
	"quotaguard/internal/platform/kafka"
	"quotaguard/internal/platform/redis"
	ratelimitconfig "quotaguard/internal/ratelimit/config"
	ratelimitmetrics "quotaguard/internal/ratelimit/metrics"
	"quotaguard/internal/ratelimit/middleware"
	"quotaguard/internal/ratelimit/ports"
	"quotaguard/internal/ratelimit/service/checker"
	"quotaguard/internal/ratelimit/service/globalthrottle"
	"quotaguard/internal/ratelimit/service/quota"
	"quotaguard/internal/ratelimit/service/requestlimit"
	"quotaguard/internal/ratelimit/store/bucket"
	"quotaguard/internal/ratelimit/store/eventlog"
	"quotaguard/pkg/platform/audit/publisher"
	kafkastore "quotaguard/pkg/platform/audit/store/kafka"
	auditmemory "quotaguard/pkg/platform/audit/store/memory"
	"quotaguard/pkg/platform/circuit"
)

const (
	cleanupInterval  = time.Minute
	auditBufferSize  = 1024
	kafkaPartitions  = 3
	kafkaReplication = 1
)

// infra holds connections that outlive a single component.
type infra struct {
	pool     *database.Pool
	redis    *redis.Client
	producer *kafka.Producer
	tracer   *sdktrace.TracerProvider
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}
	rl := cfg.RateLimit

	if rl.WindowBackend == "sql" || rl.EventLogBackend == "sql" {
		pool, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		in.pool = pool
	}

	if rl.WindowBackend == "redis" {
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			in.Close(log)
			return nil, fmt.Errorf("open redis: %w", err)
		}
		if client == nil {
			in.Close(log)
			return nil, errors.New("REDIS_URL is required for the redis window backend")
		}
		in.redis = client
	}

	producer, err := kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		in.Close(log)
		return nil, fmt.Errorf("open kafka: %w", err)
	}
	if producer != nil {
		if err := producer.EnsureTopic(ctx, kafkaPartitions, kafkaReplication); err != nil {
			log.Warn("could not ensure audit topic", "topic", producer.Topic(), "error", err)
		}
		in.producer = producer
	}

	if cfg.TraceExporter == "stdout" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			in.Close(log)
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		in.tracer = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(in.tracer)
	}

	return in, nil
}

func (in *infra) Close(log *slog.Logger) {
	if in.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := in.tracer.Shutdown(ctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}
	if in.producer != nil {
		in.producer.Close()
	}
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
	if in.pool != nil {
		if err := in.pool.Close(); err != nil {
			log.Warn("database close failed", "error", err)
		}
	}
}

// healthChecks lists the shared backends /healthz probes.
func (in *infra) healthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if in.pool != nil {
		checks["database"] = in.pool.Health
	}
	if in.redis != nil {
		checks["redis"] = in.redis.Health
	}
	return checks
}

// app is the wired quota subsystem.
type app struct {
	facade         *checker.Service
	rateLimits     *ratelimitconfig.Config
	limiter        *middleware.Middleware
	directory      *dirstore.InMemory
	auditPublisher *publisher.Publisher
	janitors       []func(context.Context) error
	health         map[string]func(context.Context) error
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger, in *infra, m *ratelimitmetrics.Metrics) (*app, error) {
	rlCfg, err := rateLimitConfig(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	a := &app{rateLimits: rlCfg, health: in.healthChecks()}

	events, err := eventStore(ctx, cfg.RateLimit.EventLogBackend, in)
	if err != nil {
		return nil, err
	}
	windows, err := a.windowStore(ctx, cfg.RateLimit.WindowBackend, in, log)
	if err != nil {
		return nil, err
	}

	var sink publisher.Store = auditmemory.NewInMemoryStore()
	if in.producer != nil {
		sink, err = kafkastore.New(in.producer)
		if err != nil {
			return nil, err
		}
	}
	a.auditPublisher = publisher.NewPublisher(sink,
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithLogger(log),
	)

	quotas, err := quota.New(events,
		quota.WithLogger(log),
		quota.WithAuditPublisher(a.auditPublisher),
		quota.WithConfig(rlCfg),
		quota.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	requests, err := requestlimit.New(windows,
		requestlimit.WithLogger(log),
		requestlimit.WithAuditPublisher(a.auditPublisher),
		requestlimit.WithConfig(rlCfg),
		requestlimit.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	a.facade, err = checker.New(requests, quotas,
		checker.WithLogger(log),
		checker.WithMetrics(m),
		checker.WithTracerProvider(otel.GetTracerProvider()),
	)
	if err != nil {
		return nil, err
	}

	opts := []middleware.Option{
		middleware.WithFailOpen(cfg.RateLimit.FailOpen),
		middleware.WithAuditPublisher(a.auditPublisher),
		middleware.WithMetrics(m),
	}
	if cfg.RateLimit.WindowBackend != "memory" {
		fallback, err := middleware.NewFallbackLimiter(rlCfg, log)
		if err != nil {
			return nil, err
		}
		opts = append(opts, middleware.WithFallback(fallback, circuit.New("ratelimit")))
	}
	if perSecond := int(cfg.RateLimit.GlobalPerSecond); perSecond > 0 {
		throttle, err := globalthrottle.New(perSecond, cfg.RateLimit.GlobalBurst,
			globalthrottle.WithLogger(log),
			globalthrottle.WithAuditPublisher(a.auditPublisher),
			globalthrottle.WithMetrics(m),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, middleware.WithGlobalThrottle(throttle))
	}
	a.limiter = middleware.New(a.facade, log, opts...)

	a.directory = dirstore.NewInMemory()
	dirstore.SeedDemo(a.directory)
	return a, nil
}

func rateLimitConfig(rl config.RateLimitConfig) (*ratelimitconfig.Config, error) {
	loc, err := time.LoadLocation(rl.QuotaTimezone)
	if err != nil {
		return nil, fmt.Errorf("load quota timezone %q: %w", rl.QuotaTimezone, err)
	}
	return ratelimitconfig.New(
		ratelimitconfig.WithLocation(loc),
		ratelimitconfig.WithPlatformDailyLimit(rl.PlatformDailyLimit),
		ratelimitconfig.WithTrustedHeaders(rl.TrustedHeaders),
	), nil
}

func eventStore(ctx context.Context, backend string, in *infra) (ports.EventStore, error) {
	switch backend {
	case "memory":
		return eventlog.NewInMemory(), nil
	case "sql":
		store := eventlog.NewSQL(in.pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate event log: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown event log backend %q", backend)
	}
}

func (a *app) windowStore(ctx context.Context, backend string, in *infra, log *slog.Logger) (ports.WindowStore, error) {
	switch backend {
	case "memory":
		store := bucket.New()
		a.janitors = append(a.janitors, func(ctx context.Context) error {
			return store.StartCleanup(ctx, cleanupInterval)
		})
		return store, nil
	case "redis":
		return bucket.NewRedis(in.redis.Client, time.Now), nil
	case "sql":
		store := bucket.NewSQL(in.pool, time.Now, bucket.WithSQLLogger(log))
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate rate limit windows: %w", err)
		}
		a.janitors = append(a.janitors, func(ctx context.Context) error {
			return store.StartCleanup(ctx, cleanupInterval)
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown window backend %q", backend)
	}
}
