package session

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

var (
	ErrSessionNotFound    = fmt.Errorf("session %w", fault.ErrNotFound)
	ErrSessionExists      = fmt.Errorf("session %w", fault.ErrConflict)
	ErrAttachmentNotFound = fmt.Errorf("session file %w", fault.ErrNotFound)
	ErrStatusChanged      = fmt.Errorf("session status changed concurrently: %w", fault.ErrInvalidState)
	ErrSessionEnded       = fmt.Errorf("session already ended: %w", fault.ErrInvalidState)
)

// StatusChange carries the fields written together with a status move.
type StatusChange struct {
	At        time.Time
	StartTime *time.Time
	EndTime   *time.Time
}

type Repository interface {
	// Insert fails with ErrSessionExists if the appointment already has a
	// session.
	Insert(ctx context.Context, s Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	GetByAppointmentID(ctx context.Context, appointmentID int64) (*Session, error)
	// CompareAndSetStatus fails with ErrStatusChanged when the stored status
	// is not from.
	CompareAndSetStatus(ctx context.Context, id string, from, to Status, change StatusChange) (*Session, error)
	SetFileStats(ctx context.Context, id string, stats FileStats, at time.Time) error
	ListByPatient(ctx context.Context, patientID int64) ([]Session, error)
	ListByDoctor(ctx context.Context, doctorID int64) ([]Session, error)
}

type AttachmentRepository interface {
	InsertAttachment(ctx context.Context, a Attachment) error
	GetAttachment(ctx context.Context, id string) (*Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
	ListAttachments(ctx context.Context, sessionID string) ([]Attachment, error)
}
