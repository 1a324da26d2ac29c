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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/femcare-appointments/internal/api"
	"github.com/hackgods/femcare-appointments/internal/appointment"
	"github.com/hackgods/femcare-appointments/internal/config"
	"github.com/hackgods/femcare-appointments/internal/db"
	"github.com/hackgods/femcare-appointments/internal/events"
	"github.com/hackgods/femcare-appointments/internal/identity"
	"github.com/hackgods/femcare-appointments/internal/logging"
	redisclient "github.com/hackgods/femcare-appointments/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("api-server", cfg.Env, cfg.LogLevel)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api-server failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageDriver).
		Str("clinic_timezone", cfg.ClinicLocation.String()).
		Msg("api-server starting up")

	var (
		repo   appointment.Repository
		checks []api.HealthCheck
	)

	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.Open(pgCtx, cfg.PostgresDSN, db.PoolOptions{}, logger)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		repo = appointment.NewPgRepository(pool)
		checks = append(checks, postgresCheck(pool))
	default:
		logger.Warn().Msg("using in-memory storage, data is lost on restart")
		repo = appointment.NewMemoryRepository()
	}

	var (
		rdb    *redis.Client
		locker redisclient.Locker
	)
	if cfg.RedisAddr != "" {
		client, err := redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			// the storage backstop still guarantees one booking per slot
			logger.Warn().Err(err).Msg("redis unavailable, booking without slot locks")
		} else {
			rdb = client
			defer func() {
				if err := rdb.Close(); err != nil {
					logger.Error().Err(err).Msg("error closing redis")
				}
			}()
			locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
			checks = append(checks, redisCheck(rdb))
			logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
		}
	}

	svc := appointment.NewService(repo, locker, cfg.Policy(), logger)

	if cfg.RelayInProcess {
		publisher, closePublisher := events.BuildPublisher(cfg.KafkaBrokers, rdb, logger)
		defer func() { _ = closePublisher() }()

		relay := events.NewRelay(repo, publisher, events.RelayConfig{
			Interval:  cfg.RelayInterval,
			BatchSize: cfg.RelayBatchSize,
		}, logger)
		go relay.Run(ctx)
	}

	identityCfg := identity.Config{}
	if cfg.JWTSecret != "" {
		identityCfg.JWTSecret = []byte(cfg.JWTSecret)
	} else {
		logger.Warn().Msg("JWT_SECRET not set, trusting X-User-ID / X-User-Role headers")
	}

	router := api.NewRouter(api.RouterConfig{
		Service:      svc,
		HealthChecks: checks,
		Identity:     identityCfg,
		Logger:       logger,
		BookingRate:  cfg.BookingRate,
		BookingBurst: 3,
		TrustProxy:   cfg.TrustProxy,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func postgresCheck(pool *pgxpool.Pool) api.HealthCheck {
	return api.HealthCheck{Name: "postgres", Critical: true, Check: pool.Ping}
}

func redisCheck(rdb *redis.Client) api.HealthCheck {
	return api.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
}
