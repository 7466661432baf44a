package appointment

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

const appointmentColumns = `id, patient_id, doctor_id, scheduled_at, appointment_type, status, reason, notes, created_at, updated_at, published_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var publishedAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ScheduledAt,
		&a.AppointmentType,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&publishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.PublishedAt = publishedAt
	return &a, nil
}

func (r *PgRepository) Create(ctx context.Context, appt Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, scheduled_at, appointment_type, status, reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+appointmentColumns,
		appt.PatientID, appt.DoctorID, appt.ScheduledAt, appt.AppointmentType, appt.Status, appt.Reason, appt.Notes, appt.CreatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID int64) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id int64, status AppointmentStatus, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, status, at)

	return scanAppointment(row)
}

func (r *PgRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET published_at = $2
		WHERE id = $1
		  AND published_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark appointment published: %w", err)
	}
	return nil
}

func (r *PgRepository) FindUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE published_at IS NULL
		  AND created_at < $1
		ORDER BY id
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
