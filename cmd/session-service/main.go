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
	"github.com/hackgods/telehealth-scheduling/internal/clock"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/eventbus"
	"github.com/hackgods/telehealth-scheduling/internal/events"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
	"github.com/hackgods/telehealth-scheduling/internal/mapping"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
	"github.com/hackgods/telehealth-scheduling/internal/session"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load(config.NeedMongo)
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger, err := logging.New(cfg.Env, cfg.ServiceName)
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("session-service starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("mongo_db", cfg.MongoDatabase),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoCtx, cancelMongo := context.WithTimeout(rootCtx, 10*time.Second)
	mongoClient, err := db.ConnectMongo(mongoCtx, cfg.MongoURI)
	if err != nil {
		cancelMongo()
		logger.Fatal("mongo connection failed", zap.Error(err))
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("error disconnecting mongo", zap.Error(err))
		}
	}()

	database := mongoClient.Database(cfg.MongoDatabase)
	mappingRepo := mapping.NewMongoRepository(database)
	sessionRepo := session.NewMongoRepository(database)
	if err := mappingRepo.EnsureIndexes(mongoCtx); err != nil {
		cancelMongo()
		logger.Fatal("mapping indexes", zap.Error(err))
	}
	if err := sessionRepo.EnsureIndexes(mongoCtx); err != nil {
		cancelMongo()
		logger.Fatal("session indexes", zap.Error(err))
	}
	cancelMongo()
	logger.Info("connected to MongoDB")

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
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	mappings := mapping.NewService(mappingRepo, clk, logger)
	sessions := session.NewService(sessionRepo, sessionRepo, mappings, locker, bus, clk, session.Options{
		URLBase: cfg.SessionURLBase,
		Source:  cfg.ServiceName,
	}, logger)

	consumer := eventbus.NewProcessor(bus, mappings.HandleAppointmentBooked, eventbus.ProcessorConfig{
		Topic:       events.TopicAppointmentBooked,
		Group:       cfg.ConsumerGroup,
		Consumer:    cfg.ConsumerName,
		MaxAttempts: cfg.BusMaxAttempts,
	}, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(rootCtx); err != nil {
			logger.Error("booking consumer exited", zap.Error(err))
			stop()
		}
	}()

	health := api.NewHealthHandler(cfg.Env, version,
		api.Dependency{Name: "mongodb", Critical: true, Ping: func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }},
		api.Dependency{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewSessionRouter(sessions, mappings, health, logger),
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
	logger.Info("shutting down session-service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	wg.Wait()
}
