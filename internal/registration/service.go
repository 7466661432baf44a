package registration

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

type Service struct {
	repo   Repository
	bus    eventbus.Publisher
	clock  clock.Clock
	source string
	logger *zap.Logger
}

func NewService(repo Repository, bus eventbus.Publisher, clk clock.Clock, source string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, bus: bus, clock: clk, source: source, logger: logger}
}

// RegisterResult is the stored patient plus whether patient.registered
// reached the bus.
type RegisterResult struct {
	Patient        *Patient
	EventPublished bool
}

// Register stores a patient and announces it. The registration instant is
// the start of the patient's booking window. A publish failure is logged and
// does not fail the registration; the patient stays unpublished until
// RepublishPending picks it up.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	p, err := s.repo.Create(ctx, Patient{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		RegisteredAt: now,
	})
	if err != nil {
		if errors.Is(err, ErrPatientExists) {
			return nil, err
		}
		return nil, fmt.Errorf("register patient: %w: %w", fault.ErrTransient, err)
	}

	s.logger.Info("patient registered", zap.Int64("patient_id", p.ID))

	published := true
	if err := s.publishRegistered(ctx, p); err != nil {
		published = false
		s.logger.Warn("patient.registered publish failed, left for resync",
			zap.Int64("patient_id", p.ID),
			zap.Error(err),
		)
	}
	return &RegisterResult{Patient: p, EventPublished: published}, nil
}

func (s *Service) publishRegistered(ctx context.Context, p *Patient) error {
	key := events.Key(p.ID)
	payload, err := events.Encode(events.TypePatientRegistered, key, s.source, p.RegisteredAt, events.PatientRegistered{
		PatientID:    p.ID,
		Contact:      p.PhoneNumber,
		RegisteredAt: p.RegisteredAt,
	})
	if err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, events.TopicPatientRegistered, key, payload); err != nil {
		return err
	}

	publishedAt := s.clock.Now()
	if err := s.repo.MarkPublished(ctx, p.ID, publishedAt); err != nil {
		// Eligibility inserts are idempotent, so a later duplicate is harmless.
		s.logger.Warn("mark published failed", zap.Int64("patient_id", p.ID), zap.Error(err))
		return nil
	}
	p.PublishedAt = &publishedAt
	return nil
}

// RepublishPending re-sends patient.registered for patients registered before
// now-olderThan whose publish never succeeded, and returns how many were sent.
func (s *Service) RepublishPending(ctx context.Context, olderThan time.Duration, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}

	pending, err := s.repo.FindUnpublished(ctx, s.clock.Now().Add(-olderThan), batch)
	if err != nil {
		return 0, fmt.Errorf("find unpublished patients: %w", err)
	}

	sent := 0
	for i := range pending {
		p := &pending[i]
		if err := s.publishRegistered(ctx, p); err != nil {
			s.logger.Warn("republish failed", zap.Int64("patient_id", p.ID), zap.Error(err))
			continue
		}
		sent++
	}

	if sent > 0 {
		s.logger.Info("republished pending registrations", zap.Int("count", sent), zap.Int("candidates", len(pending)))
	}
	return sent, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}
