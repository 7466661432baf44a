package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/clock"
	"github.com/hackgods/telehealth-scheduling/internal/eventbus"
	"github.com/hackgods/telehealth-scheduling/internal/events"
	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

var (
	ErrPatientIneligible = fmt.Errorf("patient is outside the booking window: %w", fault.ErrIneligible)
)

// EligibilityChecker answers whether a patient may book at a given instant.
type EligibilityChecker interface {
	IsEligible(ctx context.Context, patientID int64, asOf time.Time) (bool, error)
	ListEligible(ctx context.Context, asOf time.Time) ([]int64, error)
}

type Service struct {
	repo        Repository
	eligibility EligibilityChecker
	bus         eventbus.Publisher
	clock       clock.Clock
	source      string
	logger      *zap.Logger
}

func NewService(repo Repository, eligibility EligibilityChecker, bus eventbus.Publisher, clk clock.Clock, source string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		eligibility: eligibility,
		bus:         bus,
		clock:       clk,
		source:      source,
		logger:      logger,
	}
}

// BookResult is a booked appointment plus whether its event reached the bus.
type BookResult struct {
	Appointment    *Appointment
	EventPublished bool
}

// Book is the only place that decides whether a booking attempt succeeds.
// Eligibility is checked once, now; a rejected attempt writes nothing and
// publishes nothing. A publish failure after the insert is not rolled back:
// the appointment stays unpublished until RepublishPending picks it up.
func (s *Service) Book(ctx context.Context, req BookRequest) (*BookResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()

	eligible, err := s.eligibility.IsEligible(ctx, req.PatientID, now)
	if err != nil {
		return nil, fmt.Errorf("check eligibility: %w: %w", fault.ErrTransient, err)
	}
	if !eligible {
		s.logger.Info("booking rejected, patient not eligible",
			zap.Int64("patient_id", req.PatientID),
			zap.Int64("doctor_id", req.DoctorID),
		)
		return nil, ErrPatientIneligible
	}

	appt, err := s.repo.Create(ctx, Appointment{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		ScheduledAt:     req.ScheduledAt.UTC(),
		AppointmentType: req.AppointmentType,
		Status:          StatusScheduled,
		Reason:          req.Reason,
		Notes:           req.Notes,
		CreatedAt:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w: %w", fault.ErrTransient, err)
	}

	s.logger.Info("appointment booked",
		zap.Int64("appointment_id", appt.ID),
		zap.Int64("patient_id", appt.PatientID),
		zap.Int64("doctor_id", appt.DoctorID),
		zap.Time("scheduled_at", appt.ScheduledAt),
	)

	published := true
	if err := s.publishBooked(ctx, appt, now); err != nil {
		published = false
		s.logger.Warn("appointment.booked publish failed, left for resync",
			zap.Int64("appointment_id", appt.ID),
			zap.Error(err),
		)
	}

	return &BookResult{Appointment: appt, EventPublished: published}, nil
}

func (s *Service) publishBooked(ctx context.Context, appt *Appointment, bookedAt time.Time) error {
	ev := events.AppointmentBooked{
		AppointmentID:   appt.ID,
		PatientID:       appt.PatientID,
		DoctorID:        appt.DoctorID,
		ScheduledAt:     appt.ScheduledAt,
		AppointmentType: appt.AppointmentType,
		Status:          string(appt.Status),
		Reason:          appt.Reason,
		BookedAt:        bookedAt,
	}

	key := events.Key(appt.ID)
	payload, err := events.Encode(events.TypeAppointmentBooked, key, s.source, bookedAt, ev)
	if err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, events.TopicAppointmentBooked, key, payload); err != nil {
		return err
	}

	publishedAt := s.clock.Now()
	if err := s.repo.MarkPublished(ctx, appt.ID, publishedAt); err != nil {
		// The event is out; a resync would only send a duplicate, which the
		// mapping consumer absorbs.
		s.logger.Warn("mark published failed", zap.Int64("appointment_id", appt.ID), zap.Error(err))
		return nil
	}
	appt.PublishedAt = &publishedAt
	return nil
}

// SetStatus changes the stored status only. No event is emitted.
func (s *Service) SetStatus(ctx context.Context, id int64, status AppointmentStatus) (*Appointment, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, status, s.clock.Now())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logger.Info("appointment status updated",
		zap.Int64("appointment_id", id),
		zap.String("status", string(status)),
	)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID int64) ([]Appointment, error) {
	appts, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	if appts == nil {
		appts = []Appointment{}
	}
	return appts, nil
}

func (s *Service) CheckEligibility(ctx context.Context, patientID int64) (bool, error) {
	eligible, err := s.eligibility.IsEligible(ctx, patientID, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("check eligibility: %w: %w", fault.ErrTransient, err)
	}
	return eligible, nil
}

func (s *Service) ListEligiblePatients(ctx context.Context) ([]int64, error) {
	ids, err := s.eligibility.ListEligible(ctx, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("list eligible patients: %w: %w", fault.ErrTransient, err)
	}
	return ids, nil
}

// RepublishPending re-publishes appointment.booked for bookings created
// before now-olderThan whose publish never succeeded. It is intended to be
// called by the resync worker periodically and returns how many were sent.
func (s *Service) RepublishPending(ctx context.Context, olderThan time.Duration, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}

	now := s.clock.Now()
	pending, err := s.repo.FindUnpublished(ctx, now.Add(-olderThan), batch)
	if err != nil {
		return 0, fmt.Errorf("find unpublished appointments: %w", err)
	}

	sent := 0
	for i := range pending {
		appt := &pending[i]
		if err := s.publishBooked(ctx, appt, appt.CreatedAt); err != nil {
			s.logger.Warn("republish failed",
				zap.Int64("appointment_id", appt.ID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	if sent > 0 {
		s.logger.Info("republished pending bookings", zap.Int("count", sent), zap.Int("candidates", len(pending)))
	}
	return sent, nil
}
