// Command hrauth serves the authentication API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/hrauth/pkg/api"
	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/cache"
	"github.com/platinummonkey/hrauth/pkg/config"
	"github.com/platinummonkey/hrauth/pkg/maintenance"
	"github.com/platinummonkey/hrauth/pkg/middleware"
	"github.com/platinummonkey/hrauth/pkg/observability"
	"github.com/platinummonkey/hrauth/pkg/rbac"
	"github.com/platinummonkey/hrauth/pkg/storage"
	"github.com/platinummonkey/hrauth/pkg/storage/memory"
	"github.com/platinummonkey/hrauth/pkg/storage/sqlstore"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hrauth: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "hrauth").
		WithField("version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("hrauth exited with error")
		os.Exit(1)
	}
}

// run wires every component from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	defer func() {
		if err := shutdown.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("shutdown completed with errors")
		}
	}()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTelConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialise OpenTelemetry: %w", err)
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	store, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	shutdown.Register("store", func(context.Context) error { return closeStore() })

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = cache.NewRedisClient(cfg.Storage)
		if err != nil {
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}

	health := observability.NewHealthChecker(version)
	health.AddCheck("store", store, true)

	opts := []auth.Option{auth.WithLogger(logger), auth.WithMetrics(metrics)}
	if cfg.Storage.CacheEnabled {
		var c cache.Cache
		if redisClient != nil {
			c = cache.NewRedisCache(redisClient, "hrauth:")
		} else {
			c = cache.NewMemoryCache(cfg.Storage.L1CacheSize, cfg.Storage.TTL("profile", 5*time.Minute))
		}
		aside := cache.NewAside(c, logger, metrics)
		opts = append(opts, auth.WithCache(aside))
		health.AddCheck("cache", aside, false)
	}

	tokens, err := auth.NewTokenCodec(cfg.Auth.TokenConfig())
	if err != nil {
		return fmt.Errorf("invalid token configuration: %w", err)
	}
	svc := auth.NewService(store, auth.NewBcryptHasher(cfg.Auth.BcryptCost), tokens, cfg.ServiceConfig(), opts...)

	if err := seedRoles(ctx, svc, cfg.Auth.RolesFile, logger); err != nil {
		return err
	}
	if err := bootstrapSuperuser(ctx, store, cfg.Auth.BootstrapSuperuser, logger); err != nil {
		return err
	}

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		rlCfg := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Window,
			BurstSize:         cfg.RateLimit.Burst,
		}
		if cfg.RateLimit.Distributed && redisClient != nil {
			limiter = middleware.NewDistributedRateLimiter(redisClient, rlCfg, "hrauth:ratelimit")
		} else {
			local := middleware.NewRateLimiter(rlCfg)
			local.StartCleanup(ctx)
			limiter = local
		}
	}

	if cfg.Maintenance.Enabled {
		sched := maintenance.NewScheduler(svc, logger, metrics, cfg.Server.ShutdownTimeout)
		if _, err := sched.RunOnce(ctx); err != nil {
			logger.WithError(err).Warn("initial maintenance run failed")
		}
		if err := sched.Start(cfg.Maintenance.Schedule); err != nil {
			return err
		}
		shutdown.Register("maintenance", func(ctx context.Context) error {
			sched.Stop(ctx)
			return nil
		})
	}

	proxies, err := auth.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	apiServer := api.NewServer(api.Options{
		Service:      svc,
		Gateway:      middleware.NewGateway(svc, cfg.Auth.APIKeyHeader, logger),
		Guard:        rbac.NewGuard(auth.NewAuditLogger(logger), metrics),
		LoginLimiter: limiter,
		Logger:       logger,
		Metrics:      metrics,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Proxies:      proxies,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(apiServer, "hrauth"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(httpServer, "api", logger) })
	g.Go(func() error { return serve(healthServer, "health", logger) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(httpServer.Shutdown(sctx), healthServer.Shutdown(sctx))
	})

	return g.Wait()
}

func serve(srv *http.Server, name string, logger *observability.Logger) error {
	logger.WithFields(map[string]interface{}{"server": name, "addr": srv.Addr}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// credentialStore is what the binary needs from a backend beyond the
// service contract.
type credentialStore interface {
	auth.CredentialStore
	SetSuperuser(ctx context.Context, userID int64, superuser bool) error
}

// openStore returns the configured backend and its close function.
func openStore(ctx context.Context, cfg storage.Config, logger *observability.Logger) (credentialStore, func() error, error) {
	switch cfg.Type {
	case storage.TypeMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), func() error { return nil }, nil
	case storage.TypeSQLite, storage.TypePostgres:
		s, err := sqlstore.Open(ctx, cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Type, err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// seedRoles creates the built-in roles and any roles from the seed file.
func seedRoles(ctx context.Context, creator rbac.RoleCreator, path string, logger *observability.Logger) error {
	defs := rbac.BuiltInRoles()
	if path != "" {
		extra, err := rbac.LoadSeedFile(path)
		if err != nil {
			return fmt.Errorf("failed to load role seed: %w", err)
		}
		defs = append(defs, extra...)
	}

	created, err := rbac.InitializeRoles(ctx, creator, defs, logger)
	if err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}
	logger.WithField("created", created).Info("roles initialised")
	return nil
}

// bootstrapSuperuser promotes an existing account so a fresh deployment has
// an administrator.
func bootstrapSuperuser(ctx context.Context, store credentialStore, username string, logger *observability.Logger) error {
	if username == "" {
		return nil
	}
	u, err := store.GetUserByUsername(ctx, username)
	if errors.Is(err, auth.ErrUserNotFound) {
		logger.WithField("username", username).Warn("bootstrap superuser not registered yet, skipping")
		return nil
	} else if err != nil {
		return err
	}
	if u.IsSuperuser {
		return nil
	}
	if err := store.SetSuperuser(ctx, u.ID, true); err != nil {
		return fmt.Errorf("failed to promote %s: %w", username, err)
	}
	logger.WithField("user_id", u.ID).Info("bootstrap superuser promoted")
	return nil
}
