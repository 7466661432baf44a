package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusNoShow    AppointmentStatus = "NO_SHOW"
)

var ErrUnknownStatus = fmt.Errorf("unknown appointment status: %w", fault.ErrPreconditionFailed)

// ParseStatus accepts any casing of a known status.
func ParseStatus(raw string) (AppointmentStatus, error) {
	s := AppointmentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return s, nil
	}
	return "", fmt.Errorf("%q: %w", raw, ErrUnknownStatus)
}

type Appointment struct {
	ID              int64
	PatientID       int64
	DoctorID        int64
	ScheduledAt     time.Time
	AppointmentType string
	Status          AppointmentStatus
	Reason          string
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	// PublishedAt is nil until appointment.booked has been accepted by the bus.
	PublishedAt *time.Time
}

type BookRequest struct {
	PatientID       int64
	DoctorID        int64
	ScheduledAt     time.Time
	AppointmentType string
	Reason          string
	Notes           string
}

func (r BookRequest) validate() error {
	switch {
	case r.PatientID <= 0:
		return fmt.Errorf("patient_id must be positive: %w", fault.ErrPreconditionFailed)
	case r.DoctorID <= 0:
		return fmt.Errorf("doctor_id must be positive: %w", fault.ErrPreconditionFailed)
	case r.ScheduledAt.IsZero():
		return fmt.Errorf("scheduled_at is required: %w", fault.ErrPreconditionFailed)
	}
	return nil
}
