package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/clock"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/eligibility"
	"github.com/hackgods/telehealth-scheduling/internal/eventbus"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
)

const batchSize = 100

func main() {
	cfg, err := config.Load(config.NeedPostgres)
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger, err := logging.New(cfg.Env, cfg.ServiceName)
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("resync-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.ResyncInterval),
		zap.Duration("min_age", cfg.ResyncAge),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, 0)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	clk := clock.System()
	bus := eventbus.NewRedisStreams(rdb, eventbus.RedisStreamsConfig{})
	tracker := eligibility.NewTracker(eligibility.NewPgRepository(pgPool), clk, cfg.EligibilityWindow, logger)
	svc := appointment.NewService(appointment.NewPgRepository(pgPool), tracker, bus, clk, cfg.ServiceName, logger)

	// Run once at startup
	runOnce(rootCtx, svc, cfg.ResyncAge, logger)

	ticker := time.NewTicker(cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping resync worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.ResyncAge, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, minAge time.Duration, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.RepublishPending(runCtx, minAge, batchSize)
	if err != nil {
		logger.Error("resync run failed", zap.Int("republished", n), zap.Error(err))
		return
	}
	logger.Info("resync run complete", zap.Int("republished", n), zap.Duration("took", time.Since(start)))
}
