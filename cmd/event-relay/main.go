package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/femcare-appointments/internal/appointment"
	"github.com/hackgods/femcare-appointments/internal/config"
	"github.com/hackgods/femcare-appointments/internal/db"
	"github.com/hackgods/femcare-appointments/internal/events"
	"github.com/hackgods/femcare-appointments/internal/logging"
	redisclient "github.com/hackgods/femcare-appointments/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("event-relay", cfg.Env, cfg.LogLevel)

	if cfg.StorageDriver != config.StorageDriverPostgres {
		logger.Fatal().Str("storage", cfg.StorageDriver).Msg("event-relay drains the postgres outbox, set STORAGE_DRIVER=postgres")
	}

	logger.Info().
		Dur("interval", cfg.RelayInterval).
		Int("batch_size", cfg.RelayBatchSize).
		Msg("event-relay starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pool, err := db.Open(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4}, logger)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.Connect(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, availability notifications disabled")
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	publisher, closePublisher := events.BuildPublisher(cfg.KafkaBrokers, rdb, logger)
	defer func() {
		if err := closePublisher(); err != nil {
			logger.Error().Err(err).Msg("error closing publisher")
		}
	}()

	relay := events.NewRelay(appointment.NewPgRepository(pool), publisher, events.RelayConfig{
		Interval:  cfg.RelayInterval,
		BatchSize: cfg.RelayBatchSize,
	}, logger)

	relay.Run(rootCtx)

	// one last pass so a clean shutdown leaves nothing pending
	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if n, err := relay.Flush(flushCtx); err != nil {
		logger.Error().Err(err).Int("published", n).Msg("final flush failed")
	}

	logger.Info().Msg("event-relay stopped")
}
