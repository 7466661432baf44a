package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/clock"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/eventbus"
	"github.com/hackgods/telehealth-scheduling/internal/fault"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
	"github.com/hackgods/telehealth-scheduling/internal/registration"
)

func main() {
	count := flag.Int("patients", 500, "number of patients to register")
	flag.Parse()

	cfg, err := config.Load(config.NeedPostgres)
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger, err := logging.New(cfg.Env, "seed")
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("seed starting", zap.Int("patients", *count))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err == nil {
		err = db.ApplySchema(ctx, pool, db.PatientSchema)
	}
	if err != nil {
		logger.Fatal("postgres setup failed", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, 0)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer rdb.Close()

	// Registering through the service publishes patient.registered, so the
	// appointment service picks the seeded patients up as eligible.
	bus := eventbus.NewRedisStreams(rdb, eventbus.RedisStreamsConfig{})
	svc := registration.NewService(registration.NewPgRepository(pool), bus, clock.System(), "seed", zap.NewNop())

	if err := seedPatients(context.Background(), svc, *count, logger); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	logger.Info("seed complete")
}

func seedPatients(ctx context.Context, svc *registration.Service, count int, logger *zap.Logger) error {
	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	var created, duplicates, unpublished int
	for i := 0; i < count; i++ {
		res, err := svc.Register(ctx, fakePatient(faker, i))
		switch {
		case errors.Is(err, fault.ErrConflict):
			duplicates++
			continue
		case err != nil:
			return fmt.Errorf("patient %d: %w", i, err)
		}

		created++
		if !res.EventPublished {
			unpublished++
		}
		if created%100 == 0 {
			logger.Info("patients seeded", zap.Int("done", created), zap.Int("of", count))
		}
	}

	logger.Info("patients seeded",
		zap.Int("created", created),
		zap.Int("duplicates", duplicates),
		zap.Int("unpublished", unpublished),
	)
	return nil
}

// fakePatient suffixes the contact fields with the index so a run rarely
// collides with its own earlier rows.
func fakePatient(f *gofakeit.Faker, i int) registration.RegisterRequest {
	return registration.RegisterRequest{
		FirstName:   f.FirstName(),
		LastName:    f.LastName(),
		Email:       fmt.Sprintf("%s.%d@%s", f.Username(), i, f.DomainName()),
		PhoneNumber: fmt.Sprintf("+1%s%04d", f.Numerify("######"), i%10000),
	}
}
