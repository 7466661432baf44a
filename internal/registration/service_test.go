package registration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/clock"
	"github.com/hackgods/telehealth-scheduling/internal/eligibility"
	"github.com/hackgods/telehealth-scheduling/internal/eventbus"
	"github.com/hackgods/telehealth-scheduling/internal/events"
	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

type memRepo struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]Patient
	failErr error
}

func newMemRepo() *memRepo {
	return &memRepo{byID: map[int64]Patient{}}
}

func (m *memRepo) Create(_ context.Context, p Patient) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, existing := range m.byID {
		if existing.Email == p.Email || existing.PhoneNumber == p.PhoneNumber {
			return nil, ErrPatientExists
		}
	}
	m.nextID++
	p.ID = m.nextID
	m.byID[p.ID] = p
	return &p, nil
}

func (m *memRepo) GetByID(_ context.Context, id int64) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *memRepo) MarkPublished(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return ErrPatientNotFound
	}
	if p.PublishedAt == nil {
		p.PublishedAt = &at
		m.byID[id] = p
	}
	return nil
}

func (m *memRepo) FindUnpublished(_ context.Context, registeredBefore time.Time, limit int) ([]Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Patient
	for id := int64(1); id <= m.nextID && len(out) < limit; id++ {
		p, ok := m.byID[id]
		if ok && p.PublishedAt == nil && p.RegisteredAt.Before(registeredBefore) {
			out = append(out, p)
		}
	}
	return out, nil
}

var t0 = time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestService() (*Service, *memRepo, *eventbus.MemoryBus) {
	svc, repo, bus, _ := newTestServiceWithClock()
	return svc, repo, bus
}

func newTestServiceWithClock() (*Service, *memRepo, *eventbus.MemoryBus, *clock.Manual) {
	repo := newMemRepo()
	bus := eventbus.NewMemoryBus()
	clk := clock.NewManual(t0)
	return NewService(repo, bus, clk, "patient-service", zap.NewNop()), repo, bus, clk
}

func validRequest() RegisterRequest {
	return RegisterRequest{
		FirstName:   " Ada ",
		LastName:    "Lovelace",
		Email:       "Ada@Example.com",
		PhoneNumber: "+15550001",
	}
}

func TestRegisterPublishesPatientRegistered(t *testing.T) {
	svc, _, bus := newTestService()

	res, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, res.EventPublished)
	assert.Equal(t, int64(1), res.Patient.ID)
	assert.Equal(t, "Ada", res.Patient.FirstName)
	assert.Equal(t, "ada@example.com", res.Patient.Email)
	assert.Equal(t, t0, res.Patient.RegisteredAt)

	published := bus.Published(events.TopicPatientRegistered)
	require.Len(t, published, 1)
	assert.Equal(t, "1", published[0].Key)

	var ev events.PatientRegistered
	env, err := events.Decode(published[0].Payload, events.TypePatientRegistered, &ev)
	require.NoError(t, err)
	assert.Equal(t, "patient-service", env.Source)
	assert.Equal(t, int64(1), ev.PatientID)
	assert.Equal(t, "+15550001", ev.Contact)
	assert.Equal(t, t0, ev.RegisteredAt)
}

func TestRegisterDuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	svc, _, bus := newTestService()

	_, err := svc.Register(ctx, validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.PhoneNumber = "+15559999"
	_, err = svc.Register(ctx, req)
	assert.ErrorIs(t, err, ErrPatientExists)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
	assert.Len(t, bus.Published(events.TopicPatientRegistered), 1)
}

func TestRegisterPublishFailureStillSucceeds(t *testing.T) {
	svc, repo, bus := newTestService()
	bus.FailPublishes(errors.New("redis unavailable"))

	res, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)
	assert.False(t, res.EventPublished)
	assert.Len(t, repo.byID, 1)
	assert.Nil(t, repo.byID[res.Patient.ID].PublishedAt)
}

func TestRegisterMarksPatientPublished(t *testing.T) {
	svc, repo, _ := newTestService()

	res, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotNil(t, repo.byID[res.Patient.ID].PublishedAt)
	assert.Equal(t, t0, *repo.byID[res.Patient.ID].PublishedAt)
}

// memEligibility is the appointment side's eligibility store, used to check
// that a resynced registration makes the patient bookable.
type memEligibility struct {
	mu      sync.Mutex
	records map[int64]eligibility.Record
}

func (m *memEligibility) InsertIfAbsent(_ context.Context, rec eligibility.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.PatientID]; ok {
		return false, nil
	}
	m.records[rec.PatientID] = rec
	return true, nil
}

func (m *memEligibility) Get(_ context.Context, patientID int64) (*eligibility.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[patientID]
	if !ok {
		return nil, eligibility.ErrRecordNotFound
	}
	return &rec, nil
}

func (m *memEligibility) ListRegisteredAfter(_ context.Context, cutoff time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, rec := range m.records {
		if rec.RegisteredAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func TestPublishFailureKeepsPatientForResync(t *testing.T) {
	ctx := context.Background()
	svc, repo, bus, clk := newTestServiceWithClock()
	bus.FailPublishes(errors.New("redis unavailable"))

	res, err := svc.Register(ctx, validRequest())
	require.NoError(t, err)
	require.False(t, res.EventPublished)
	require.Empty(t, bus.Published(events.TopicPatientRegistered))

	// Too young to resync yet.
	n, err := svc.RepublishPending(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(2 * time.Minute)
	bus.FailPublishes(nil)

	n, err = svc.RepublishPending(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NotNil(t, repo.byID[res.Patient.ID].PublishedAt)

	tracker := eligibility.NewTracker(&memEligibility{records: map[int64]eligibility.Record{}}, clk, eligibility.DefaultWindow, zap.NewNop())
	err = bus.Drain(ctx, events.TopicPatientRegistered, "appointment-service", tracker.HandlePatientRegistered)
	require.NoError(t, err)

	ok, err := tracker.IsEligible(ctx, res.Patient.ID, clk.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = svc.RepublishPending(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegisterStoreFailureIsTransient(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.failErr = errors.New("connection refused")

	_, err := svc.Register(context.Background(), validRequest())
	assert.Equal(t, fault.KindTransient, fault.KindOf(err))
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService()

	cases := map[string]func(*RegisterRequest){
		"missing first name": func(r *RegisterRequest) { r.FirstName = "  " },
		"bad email":          func(r *RegisterRequest) { r.Email = "not-an-email" },
		"missing phone":      func(r *RegisterRequest) { r.PhoneNumber = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			mutate(&req)
			_, err := svc.Register(context.Background(), req)
			assert.Equal(t, fault.KindPreconditionFailed, fault.KindOf(err))
		})
	}
}

func TestRegisteredPatientFeedsEligibilityConsumer(t *testing.T) {
	ctx := context.Background()
	svc, _, bus := newTestService()

	_, err := svc.Register(ctx, validRequest())
	require.NoError(t, err)

	var seen []int64
	err = bus.Drain(ctx, events.TopicPatientRegistered, "appointment-service", func(_ context.Context, d eventbus.Delivery) error {
		var ev events.PatientRegistered
		if _, err := events.Decode(d.Payload, events.TypePatientRegistered, &ev); err != nil {
			return err
		}
		seen = append(seen, ev.PatientID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, seen)
}
