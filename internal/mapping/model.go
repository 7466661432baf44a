package mapping

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

type Status string

const (
	StatusPending      Status = "PENDING"
	StatusConfirmed    Status = "CONFIRMED"
	StatusSessionReady Status = "SESSION_READY"
	StatusCompleted    Status = "COMPLETED"
	StatusCancelled    Status = "CANCELLED"
)

var AllStatuses = []Status{StatusPending, StatusConfirmed, StatusSessionReady, StatusCompleted, StatusCancelled}

var (
	ErrUnknownStatus     = fmt.Errorf("unknown mapping status: %w", fault.ErrPreconditionFailed)
	ErrInvalidTransition = fmt.Errorf("invalid mapping transition: %w", fault.ErrPreconditionFailed)
)

// transitions is the whole state machine. Nothing moves backwards and
// nothing leaves a terminal status.
var transitions = map[Status][]Status{
	StatusPending:      {StatusConfirmed, StatusCancelled},
	StatusConfirmed:    {StatusSessionReady, StatusCancelled},
	StatusSessionReady: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Rank orders statuses along the workflow. Terminal statuses share a rank.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusConfirmed:
		return 1
	case StatusSessionReady:
		return 2
	case StatusCompleted, StatusCancelled:
		return 3
	}
	return -1
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if s.Rank() < 0 {
		return "", fmt.Errorf("%q: %w", raw, ErrUnknownStatus)
	}
	return s, nil
}

// Mapping is the session service's own projection of an appointment.
type Mapping struct {
	ID              string    `bson:"_id"`
	AppointmentID   int64     `bson:"appointment_id"`
	PatientID       int64     `bson:"patient_id"`
	DoctorID        int64     `bson:"doctor_id"`
	AppointmentType string    `bson:"appointment_type"`
	AppointmentTime time.Time `bson:"appointment_time"`
	Status          Status    `bson:"status"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

// AllowsSession reports whether a session may be created for the mapping.
func (m Mapping) AllowsSession() bool {
	return m.Status == StatusConfirmed || m.Status == StatusSessionReady
}

// Outcome is a terminal session result as seen by the mapping.
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeCancelled Outcome = "CANCELLED"
)

func (o Outcome) status() Status {
	if o == OutcomeCompleted {
		return StatusCompleted
	}
	return StatusCancelled
}

// OutcomeForSession converts a terminal session status into the mapping
// outcome. A no-show cancels the appointment. ok is false for non-terminal
// session statuses.
func OutcomeForSession(sessionStatus string) (Outcome, bool) {
	switch strings.ToUpper(sessionStatus) {
	case "COMPLETED":
		return OutcomeCompleted, true
	case "CANCELLED", "NO_SHOW":
		return OutcomeCancelled, true
	}
	return "", false
}

// StatusFromBooking converts the appointment service's booking status into
// the status a fresh mapping starts from. Live bookings start PENDING. A
// booking already closed when its event arrived is stored closed and never
// permits a session.
func StatusFromBooking(bookingStatus string) Status {
	switch strings.ToUpper(bookingStatus) {
	case "CANCELLED", "NO_SHOW":
		return StatusCancelled
	case "COMPLETED":
		return StatusCompleted
	}
	return StatusPending
}
