package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", fault.ErrNotFound)
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Create(ctx context.Context, appt Appointment) (*Appointment, error)
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID int64) ([]Appointment, error)

	UpdateStatus(ctx context.Context, id int64, status AppointmentStatus, at time.Time) (*Appointment, error)

	// Resync of bookings whose event never reached the bus
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	FindUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]Appointment, error)
}
