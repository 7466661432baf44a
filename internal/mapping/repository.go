package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

var (
	ErrMappingNotFound = fmt.Errorf("appointment mapping %w", fault.ErrNotFound)
	ErrMappingExists   = fmt.Errorf("appointment mapping %w", fault.ErrConflict)
	// ErrStatusChanged is returned by a compare-and-set whose expected status
	// no longer matches the stored one.
	ErrStatusChanged = fmt.Errorf("appointment mapping status changed concurrently: %w", fault.ErrConflict)
)

// Repository persists mappings keyed uniquely by appointment id.
type Repository interface {
	// Insert fails with ErrMappingExists when a mapping for the same
	// appointment id is already stored.
	Insert(ctx context.Context, m Mapping) error
	GetByAppointmentID(ctx context.Context, appointmentID int64) (*Mapping, error)
	// CompareAndSetStatus moves the mapping from one status to another and
	// returns the updated mapping. It fails with ErrStatusChanged if the
	// stored status is not from, and ErrMappingNotFound if there is none.
	CompareAndSetStatus(ctx context.Context, appointmentID int64, from, to Status, at time.Time) (*Mapping, error)

	ListByStatus(ctx context.Context, status Status) ([]Mapping, error)
	ListByPatient(ctx context.Context, patientID int64) ([]Mapping, error)
	ListByDoctor(ctx context.Context, doctorID int64) ([]Mapping, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
