package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/api"
	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/clock"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/eligibility"
	"github.com/hackgods/telehealth-scheduling/internal/eventbus"
	"github.com/hackgods/telehealth-scheduling/internal/events"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
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

	logger.Info("appointment-service starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	if err == nil {
		err = db.ApplySchema(pgCtx, pgPool, db.AppointmentSchema)
	}
	cancelPg()
	if err != nil {
		logger.Fatal("postgres setup failed", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, 1)
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
	bus := eventbus.NewRedisStreams(rdb, eventbus.RedisStreamsConfig{Block: cfg.BusBlock})

	tracker := eligibility.NewTracker(eligibility.NewPgRepository(pgPool), clk, cfg.EligibilityWindow, logger)
	logger.Info("eligibility tracker ready", zap.Duration("window", tracker.Window()))
	svc := appointment.NewService(appointment.NewPgRepository(pgPool), tracker, bus, clk, cfg.ServiceName, logger)

	consumer := eventbus.NewProcessor(bus, tracker.HandlePatientRegistered, eventbus.ProcessorConfig{
		Topic:       events.TopicPatientRegistered,
		Group:       cfg.ConsumerGroup,
		Consumer:    cfg.ConsumerName,
		MaxAttempts: cfg.BusMaxAttempts,
	}, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(rootCtx); err != nil {
			logger.Error("registration consumer exited", zap.Error(err))
			stop()
		}
	}()

	health := api.NewHealthHandler(cfg.Env, version,
		api.Dependency{Name: "postgres", Critical: true, Ping: pgPool.Ping},
		api.Dependency{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewAppointmentRouter(svc, health, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down appointment-service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	wg.Wait()
}
