package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// Schema holds the DDL each Postgres-backed service applies at startup.
// Statements are idempotent.
var (
	PatientSchema = []string{
		`CREATE TABLE IF NOT EXISTS patients (
			id            BIGSERIAL PRIMARY KEY,
			first_name    TEXT NOT NULL,
			last_name     TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			phone_number  TEXT NOT NULL UNIQUE,
			registered_at TIMESTAMPTZ NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`ALTER TABLE patients ADD COLUMN IF NOT EXISTS published_at TIMESTAMPTZ`,
		`CREATE INDEX IF NOT EXISTS idx_patients_unpublished ON patients (registered_at) WHERE published_at IS NULL`,
	}

	AppointmentSchema = []string{
		`CREATE TABLE IF NOT EXISTS eligibility_records (
			patient_id     BIGINT PRIMARY KEY,
			contact_handle TEXT NOT NULL DEFAULT '',
			registered_at  TIMESTAMPTZ NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_eligibility_registered_at ON eligibility_records (registered_at)`,
		`CREATE TABLE IF NOT EXISTS appointments (
			id               BIGSERIAL PRIMARY KEY,
			patient_id       BIGINT NOT NULL,
			doctor_id        BIGINT NOT NULL,
			scheduled_at     TIMESTAMPTZ NOT NULL,
			appointment_type TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			reason           TEXT NOT NULL DEFAULT '',
			notes            TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL,
			published_at     TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_patient ON appointments (patient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_unpublished ON appointments (created_at) WHERE published_at IS NULL`,
	}
)

// ApplySchema runs the given statements in order inside one transaction.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool, statements []string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return tx.Commit(ctx)
}
