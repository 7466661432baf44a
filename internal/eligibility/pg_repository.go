package eligibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) InsertIfAbsent(ctx context.Context, rec Record) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO eligibility_records (patient_id, contact_handle, registered_at, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (patient_id) DO NOTHING
	`, rec.PatientID, rec.ContactHandle, rec.RegisteredAt)
	if err != nil {
		return false, fmt.Errorf("insert eligibility record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) Get(ctx context.Context, patientID int64) (*Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, `
		SELECT patient_id, contact_handle, registered_at, created_at
		FROM eligibility_records
		WHERE patient_id = $1
	`, patientID).Scan(&rec.PatientID, &rec.ContactHandle, &rec.RegisteredAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get eligibility record: %w", err)
	}
	return &rec, nil
}

func (r *PgRepository) ListRegisteredAfter(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT patient_id
		FROM eligibility_records
		WHERE registered_at > $1
		ORDER BY registered_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list eligible patients: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan eligible patients: %w", err)
	}
	return ids, nil
}
