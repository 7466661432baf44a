package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/api"
	"github.com/hackgods/telehealth-scheduling/internal/clock"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/eventbus"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
	"github.com/hackgods/telehealth-scheduling/internal/registration"
)

const version = "1.0.0"

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

	logger.Info("patient-service starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	if err == nil {
		err = db.ApplySchema(pgCtx, pgPool, db.PatientSchema)
	}
	cancelPg()
	if err != nil {
		logger.Fatal("postgres setup failed", zap.Error(err))
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

	bus := eventbus.NewRedisStreams(rdb, eventbus.RedisStreamsConfig{Block: cfg.BusBlock})
	svc := registration.NewService(registration.NewPgRepository(pgPool), bus, clock.System(), cfg.ServiceName, logger)

	health := api.NewHealthHandler(cfg.Env, version,
		api.Dependency{Name: "postgres", Critical: true, Ping: pgPool.Ping},
		api.Dependency{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewPatientRouter(svc, health, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	go runResync(rootCtx, svc, cfg.ResyncInterval, cfg.ResyncAge, logger)

	<-rootCtx.Done()
	logger.Info("shutting down patient-service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
}

// runResync re-sends patient.registered for registrations whose publish
// failed, so the appointment side eventually learns about every patient.
func runResync(ctx context.Context, svc *registration.Service, interval, minAge time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
			n, err := svc.RepublishPending(runCtx, minAge, 100)
			cancel()
			if err != nil {
				logger.Error("registration resync failed", zap.Int("republished", n), zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("registration resync complete", zap.Int("republished", n))
			}
		}
	}
}
