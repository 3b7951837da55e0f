package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/async"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage/postgres"
)

var Version = "dev"

var bootstrapAdmin = flag.Int64("bootstrap-admin", 0, "Grant MANAGE_PERMISSIONS (ALL, ADMIN) to this user id at startup")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "gatehouse").
		WithField("version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	var otelMetrics *observability.OTelMetrics
	if otelProviders != nil {
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
	}

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	// Storage
	cm, err := postgres.NewConnectionManager(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	db := cm.DB()
	if err := postgres.Migrate(ctx, db, logger); err != nil {
		cm.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	permStore := rbac.NewStore(db)
	if err := rbac.SeedLevels(ctx, permStore); err != nil {
		cm.Close()
		return err
	}
	cm.StartStatsRoutine(ctx, metrics, 30*time.Second)

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = postgres.NewRedisClient(ctx, cfg.Redis.RedisConfig)
		if err != nil {
			cm.Close()
			return err
		}
		logger.Info("redis liveness cache enabled")
	}

	// Authentication
	store := auth.NewStore(db)
	tokenOpts := []auth.TokenOption{
		auth.WithTokenLogger(logger),
		auth.WithTokenMetrics(metrics),
	}
	if redisClient != nil {
		tokenOpts = append(tokenOpts, auth.WithLivenessCache(postgres.NewRedisLivenessCache(redisClient, cfg.Redis.LivenessTTL, metrics)))
	}
	users := auth.NewCachedUserStore(store, cfg.Token.UserCacheSize, cfg.Token.UserCacheTTL)
	tokens, err := auth.NewTokenManager(cfg.Token.Manager(), store, users, tokenOpts...)
	if err != nil {
		return err
	}

	providers, flows, err := buildProviders(ctx, cfg.Providers, store, auth.NewBcryptHasher(cfg.Token.BcryptCost), logger)
	if err != nil {
		return err
	}
	registry, err := auth.NewRegistry(providers...)
	if err != nil {
		return err
	}
	logger.WithField("providers", registry.Names()).WithField("flows", flows.IDs()).Info("authentication providers registered")

	service := auth.NewService(registry, tokens,
		auth.WithServiceLogger(logger),
		auth.WithServiceMetrics(metrics),
		auth.WithServiceOTelMetrics(otelMetrics),
	)

	evaluator, err := rbac.NewEvaluator(ctx, permStore,
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
		rbac.WithOTelMetrics(otelMetrics),
	)
	if err != nil {
		return err
	}
	if *bootstrapAdmin > 0 {
		if err := grantBootstrapAdmin(ctx, evaluator, *bootstrapAdmin); err != nil {
			return err
		}
	}

	// HTTP
	server, err := api.NewServer(api.Dependencies{
		Service:       service,
		Flows:         flows,
		Evaluator:     evaluator,
		RateLimiter:   newRateLimiter(ctx, cfg.RateLimit, redisClient, logger),
		Logger:        logger,
		Metrics:       metrics,
		SecureCookies: cfg.Server.SecureCookies,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, Version))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(promRegistry))
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sweeper, err := scheduleSweep(ctx, cfg.Token.SweepSchedule, tokens, logger)
	if err != nil {
		return err
	}
	sweeper.Start()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return cm.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.RegisterShutdownFunc("token sweep", func(ctx context.Context) error {
		select {
		case <-sweeper.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(apiServer, logger.WithField("server", "api")) })
	g.Go(func() error { return serve(healthServer, logger.WithField("server", "health")) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("starting graceful shutdown")
		return shutdown.Shutdown(context.Background())
	})
	return g.Wait()
}

func serve(srv *http.Server, logger *observability.Logger) error {
	logger.WithField("addr", srv.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", srv.Addr, err)
	}
	return nil
}

// newRateLimiter picks the Redis limiter when Redis is configured so that
// replicas share one budget per client
func newRateLimiter(ctx context.Context, cfg config.RateLimitConfig, redisClient *redis.Client, logger *observability.Logger) *middleware.RateLimitMiddleware {
	if !cfg.Enabled {
		return nil
	}
	rlConfig := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Burst,
	}

	var limiter middleware.Limiter
	if redisClient != nil {
		limiter = middleware.NewDistributedRateLimiter(redisClient, rlConfig, "")
	} else {
		local := middleware.NewRateLimiter(rlConfig)
		local.StartCleanup(ctx)
		limiter = local
	}
	return middleware.NewRateLimitMiddleware(limiter, rlConfig, logger)
}

// scheduleSweep registers the expired-token sweep. An empty schedule leaves
// the scheduler empty.
func scheduleSweep(ctx context.Context, schedule string, tokens *auth.TokenManager, logger *observability.Logger) (*cron.Cron, error) {
	c := cron.New()
	if schedule == "" {
		return c, nil
	}

	if _, err := c.AddJob(schedule, newSweepJob(tokens, logger).WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("failed to schedule token sweep: %w", err)
	}
	return c, nil
}

func newSweepJob(tokens *auth.TokenManager, logger *observability.Logger) *async.Job {
	return &async.Job{
		Name:    "token sweep",
		Timeout: time.Minute,
		Logger:  logger,
		Fn: func(ctx context.Context) error {
			n, err := tokens.SweepExpired(ctx)
			if err != nil {
				return err
			}
			logger.WithField("deleted", n).Info("expired tokens swept")
			return nil
		},
	}
}

// grantBootstrapAdmin lets the first operator manage everyone's permissions
func grantBootstrapAdmin(ctx context.Context, evaluator *rbac.Evaluator, userID int64) error {
	_, err := evaluator.GrantPermission(ctx, userID, rbac.PermissionManage,
		rbac.StringPtr(rbac.TargetAll), rbac.StringPtr(rbac.LevelAdmin), 0)
	if err != nil && !errors.Is(err, auth.ErrResourceAlreadyExists) {
		return fmt.Errorf("failed to grant bootstrap admin: %w", err)
	}
	return nil
}
