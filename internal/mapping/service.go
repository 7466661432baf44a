package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/clock"
	"github.com/hackgods/telehealth-scheduling/internal/eventbus"
	"github.com/hackgods/telehealth-scheduling/internal/events"
	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

// Service is the appointment mapping state machine. Every status change is a
// compare-and-set against the stored status, so concurrent callers cannot
// move a mapping backwards or apply the same edge twice.
type Service struct {
	repo   Repository
	clock  clock.Clock
	logger *zap.Logger
}

func NewService(repo Repository, clk clock.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, clock: clk, logger: logger}
}

// OnAppointmentBooked creates the mapping for a booked appointment and
// confirms it. Creation and confirmation are separate writes; a crash between
// them leaves PENDING, and the redelivered event finishes the job. An
// existing mapping past PENDING is returned unchanged.
func (s *Service) OnAppointmentBooked(ctx context.Context, ev events.AppointmentBooked) (*Mapping, error) {
	log := s.logger.With(zap.Int64("appointment_id", ev.AppointmentID))

	m, err := s.repo.GetByAppointmentID(ctx, ev.AppointmentID)
	switch {
	case err == nil:
		log.Debug("mapping already exists", zap.String("status", string(m.Status)))
	case errors.Is(err, ErrMappingNotFound):
		m, err = s.create(ctx, ev)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("load mapping: %w", err)
	}

	if m.Status != StatusPending {
		return m, nil
	}

	confirmed, err := s.repo.CompareAndSetStatus(ctx, ev.AppointmentID, StatusPending, StatusConfirmed, s.clock.Now())
	if errors.Is(err, ErrStatusChanged) {
		return s.repo.GetByAppointmentID(ctx, ev.AppointmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("confirm mapping: %w", err)
	}

	log.Info("appointment mapping confirmed")
	return confirmed, nil
}

func (s *Service) create(ctx context.Context, ev events.AppointmentBooked) (*Mapping, error) {
	now := s.clock.Now()
	m := Mapping{
		ID:              uuid.NewString(),
		AppointmentID:   ev.AppointmentID,
		PatientID:       ev.PatientID,
		DoctorID:        ev.DoctorID,
		AppointmentType: ev.AppointmentType,
		AppointmentTime: ev.ScheduledAt.UTC(),
		Status:          StatusFromBooking(ev.Status),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.repo.Insert(ctx, m)
	if errors.Is(err, ErrMappingExists) {
		// Lost a create race with a concurrent delivery; continue from the
		// winner's mapping.
		s.logger.Debug("mapping insert lost race", zap.Int64("appointment_id", ev.AppointmentID))
		return s.repo.GetByAppointmentID(ctx, ev.AppointmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("create mapping: %w", err)
	}

	s.logger.Info("appointment mapping created",
		zap.Int64("appointment_id", m.AppointmentID),
		zap.String("status", string(m.Status)),
	)
	return &m, nil
}

// CanCreateSession reports whether the mapping permits session creation.
// A missing mapping does not.
func (s *Service) CanCreateSession(ctx context.Context, appointmentID int64) (bool, error) {
	m, err := s.repo.GetByAppointmentID(ctx, appointmentID)
	if errors.Is(err, ErrMappingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load mapping: %w", err)
	}
	return m.AllowsSession(), nil
}

// AdvanceToSessionReady moves CONFIRMED to SESSION_READY. From any other
// status it returns the mapping unchanged so retried session commands
// converge.
func (s *Service) AdvanceToSessionReady(ctx context.Context, appointmentID int64) (*Mapping, error) {
	m, err := s.repo.GetByAppointmentID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusConfirmed {
		return m, nil
	}

	updated, err := s.repo.CompareAndSetStatus(ctx, appointmentID, StatusConfirmed, StatusSessionReady, s.clock.Now())
	if errors.Is(err, ErrStatusChanged) {
		return s.repo.GetByAppointmentID(ctx, appointmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("advance mapping to session ready: %w", err)
	}

	s.logger.Info("appointment mapping session ready", zap.Int64("appointment_id", appointmentID))
	return updated, nil
}

// SetStatus is the administrative override. Setting the current status is a
// no-op; otherwise only edges of the state machine are accepted, and
// SESSION_READY is reserved for AdvanceToSessionReady.
func (s *Service) SetStatus(ctx context.Context, appointmentID int64, status Status) (*Mapping, error) {
	if status.Rank() < 0 {
		return nil, fmt.Errorf("%q: %w", status, ErrUnknownStatus)
	}

	m, err := s.repo.GetByAppointmentID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if m.Status == status {
		return m, nil
	}
	if m.Status.Terminal() {
		return nil, fmt.Errorf("mapping %d is already %s: %w", appointmentID, m.Status, ErrInvalidTransition)
	}
	if status == StatusSessionReady || !CanTransition(m.Status, status) {
		return nil, fmt.Errorf("%s -> %s: %w", m.Status, status, ErrInvalidTransition)
	}

	updated, err := s.repo.CompareAndSetStatus(ctx, appointmentID, m.Status, status, s.clock.Now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment mapping status overridden",
		zap.Int64("appointment_id", appointmentID),
		zap.String("from", string(m.Status)),
		zap.String("to", string(status)),
	)
	return updated, nil
}

// RecordSessionOutcome moves a SESSION_READY mapping to the terminal status
// matching the session's outcome. It is idempotent. A CONFIRMED mapping is
// first advanced, since that is the state left behind when a session was
// stored but the advance did not complete.
func (s *Service) RecordSessionOutcome(ctx context.Context, appointmentID int64, outcome Outcome) (*Mapping, error) {
	target := outcome.status()

	m, err := s.AdvanceToSessionReady(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	switch {
	case m.Status == target:
		return m, nil
	case m.Status == StatusPending:
		s.logger.Error("session finished for an unconfirmed appointment mapping",
			zap.Int64("appointment_id", appointmentID),
			zap.String("outcome", string(outcome)),
		)
		return nil, fmt.Errorf("mapping %d is %s but has a session: %w", appointmentID, m.Status, fault.ErrInternal)
	case m.Status != StatusSessionReady:
		return nil, fmt.Errorf("%s -> %s: %w", m.Status, target, ErrInvalidTransition)
	}

	updated, err := s.repo.CompareAndSetStatus(ctx, appointmentID, StatusSessionReady, target, s.clock.Now())
	if errors.Is(err, ErrStatusChanged) {
		current, getErr := s.repo.GetByAppointmentID(ctx, appointmentID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == target {
			return current, nil
		}
		return nil, fmt.Errorf("%s -> %s: %w", current.Status, target, ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("record session outcome: %w", err)
	}

	s.logger.Info("appointment mapping finished",
		zap.Int64("appointment_id", appointmentID),
		zap.String("status", string(target)),
	)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, appointmentID int64) (*Mapping, error) {
	return s.repo.GetByAppointmentID(ctx, appointmentID)
}

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Mapping, error) {
	if status.Rank() < 0 {
		return nil, fmt.Errorf("%q: %w", status, ErrUnknownStatus)
	}
	return nonNil(s.repo.ListByStatus(ctx, status))
}

func (s *Service) ListByPatient(ctx context.Context, patientID int64) ([]Mapping, error) {
	return nonNil(s.repo.ListByPatient(ctx, patientID))
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID int64) ([]Mapping, error) {
	return nonNil(s.repo.ListByDoctor(ctx, doctorID))
}

// CountsByStatus reports how many mappings sit in each status, including
// zero counts.
func (s *Service) CountsByStatus(ctx context.Context) (map[Status]int64, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[Status]int64, len(AllStatuses))
	for _, st := range AllStatuses {
		out[st] = counts[st]
	}
	return out, nil
}

// HandleAppointmentBooked is the appointment.booked consumer.
func (s *Service) HandleAppointmentBooked(ctx context.Context, d eventbus.Delivery) error {
	var ev events.AppointmentBooked
	if _, err := events.Decode(d.Payload, events.TypeAppointmentBooked, &ev); err != nil {
		return eventbus.Permanent(err)
	}
	if ev.AppointmentID <= 0 {
		return eventbus.Permanent(fmt.Errorf("appointment.booked %s has no appointment id", d.ID))
	}

	_, err := s.OnAppointmentBooked(ctx, ev)
	return err
}

func nonNil(ms []Mapping, err error) ([]Mapping, error) {
	if err != nil {
		return nil, err
	}
	if ms == nil {
		ms = []Mapping{}
	}
	return ms, nil
}
