package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

var (
	ErrPatientExists   = fmt.Errorf("patient with this email or phone number %w", fault.ErrConflict)
	ErrPatientNotFound = fmt.Errorf("patient %w", fault.ErrNotFound)
)

type Repository interface {
	// Create fails with ErrPatientExists on a duplicate email or phone number.
	Create(ctx context.Context, p Patient) (*Patient, error)
	GetByID(ctx context.Context, id int64) (*Patient, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	// FindUnpublished returns patients registered before the cutoff whose
	// patient.registered event never reached the bus, oldest first.
	FindUnpublished(ctx context.Context, registeredBefore time.Time, limit int) ([]Patient, error)
}

const patientColumns = `id, first_name, last_name, email, phone_number, registered_at, published_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Create(ctx context.Context, p Patient) (*Patient, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO patients (first_name, last_name, email, phone_number, registered_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, p.FirstName, p.LastName, p.Email, p.PhoneNumber, p.RegisteredAt).Scan(&p.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrPatientExists
		}
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	return &p, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id int64) (*Patient, error) {
	p, err := scanPatient(r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *PgRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE patients
		SET published_at = $2
		WHERE id = $1
		  AND published_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark patient published: %w", err)
	}
	return nil
}

func (r *PgRepository) FindUnpublished(ctx context.Context, registeredBefore time.Time, limit int) ([]Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE published_at IS NULL
		  AND registered_at < $1
		ORDER BY registered_at, id
		LIMIT $2
	`, registeredBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("find unpublished patients: %w", err)
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.PhoneNumber, &p.RegisteredAt, &p.PublishedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
