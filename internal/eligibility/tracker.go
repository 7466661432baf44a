package eligibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/clock"
	"github.com/hackgods/telehealth-scheduling/internal/eventbus"
	"github.com/hackgods/telehealth-scheduling/internal/events"
)

// Tracker owns eligibility records. It is fed by patient.registered and
// queried by the booking coordinator.
type Tracker struct {
	repo   Repository
	clock  clock.Clock
	window time.Duration
	logger *zap.Logger
}

func NewTracker(repo Repository, clk clock.Clock, window time.Duration, logger *zap.Logger) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		repo:   repo,
		clock:  clk,
		window: window,
		logger: logger,
	}
}

// RecordRegistration stores the registration if the patient has none yet.
// Repeats are silent no-ops so redelivered events are harmless.
func (t *Tracker) RecordRegistration(ctx context.Context, patientID int64, contact string, registeredAt time.Time) error {
	if patientID <= 0 {
		return fmt.Errorf("invalid patient id %d", patientID)
	}
	if registeredAt.IsZero() {
		registeredAt = t.clock.Now()
	}

	created, err := t.repo.InsertIfAbsent(ctx, Record{
		PatientID:     patientID,
		ContactHandle: contact,
		RegisteredAt:  registeredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("record registration: %w", err)
	}

	if created {
		t.logger.Info("eligibility window opened",
			zap.Int64("patient_id", patientID),
			zap.Time("registered_at", registeredAt),
			zap.Time("closes_at", registeredAt.Add(t.window)),
		)
	} else {
		t.logger.Debug("registration already recorded", zap.Int64("patient_id", patientID))
	}
	return nil
}

// IsEligible reports whether patientID may book at asOf. Unknown patients
// are not eligible. The error only carries store failures.
func (t *Tracker) IsEligible(ctx context.Context, patientID int64, asOf time.Time) (bool, error) {
	rec, err := t.repo.Get(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load eligibility record: %w", err)
	}
	return rec.EligibleAt(asOf, t.window), nil
}

// ListEligible returns every patient whose window is still open at asOf.
func (t *Tracker) ListEligible(ctx context.Context, asOf time.Time) ([]int64, error) {
	ids, err := t.repo.ListRegisteredAfter(ctx, asOf.Add(-t.window))
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// Window returns the configured booking window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// HandlePatientRegistered is the patient.registered consumer.
func (t *Tracker) HandlePatientRegistered(ctx context.Context, d eventbus.Delivery) error {
	var ev events.PatientRegistered
	if _, err := events.Decode(d.Payload, events.TypePatientRegistered, &ev); err != nil {
		return eventbus.Permanent(err)
	}
	if ev.PatientID <= 0 {
		return eventbus.Permanent(fmt.Errorf("patient.registered %s has no patient id", d.ID))
	}

	return t.RecordRegistration(ctx, ev.PatientID, ev.Contact, ev.RegisteredAt)
}
