package mapping

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/clock"
	"github.com/hackgods/telehealth-scheduling/internal/eventbus"
	"github.com/hackgods/telehealth-scheduling/internal/events"
	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

type memRepo struct {
	mu        sync.Mutex
	byAppt    map[int64]Mapping
	casErr    error
	casCalls  int
	insertErr error
}

func newMemRepo() *memRepo {
	return &memRepo{byAppt: make(map[int64]Mapping)}
}

func (r *memRepo) Insert(_ context.Context, m Mapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.byAppt[m.AppointmentID]; ok {
		return ErrMappingExists
	}
	r.byAppt[m.AppointmentID] = m
	return nil
}

func (r *memRepo) GetByAppointmentID(_ context.Context, appointmentID int64) (*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byAppt[appointmentID]
	if !ok {
		return nil, ErrMappingNotFound
	}
	return &m, nil
}

func (r *memRepo) CompareAndSetStatus(_ context.Context, appointmentID int64, from, to Status, at time.Time) (*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	if r.casErr != nil {
		err := r.casErr
		r.casErr = nil
		return nil, err
	}
	m, ok := r.byAppt[appointmentID]
	if !ok {
		return nil, ErrMappingNotFound
	}
	if m.Status != from {
		return nil, ErrStatusChanged
	}
	m.Status = to
	m.UpdatedAt = at
	r.byAppt[appointmentID] = m
	return &m, nil
}

func (r *memRepo) list(keep func(Mapping) bool) []Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Mapping
	for _, m := range r.byAppt {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentTime.Before(out[j].AppointmentTime) })
	return out
}

func (r *memRepo) ListByStatus(_ context.Context, status Status) ([]Mapping, error) {
	return r.list(func(m Mapping) bool { return m.Status == status }), nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID int64) ([]Mapping, error) {
	return r.list(func(m Mapping) bool { return m.PatientID == patientID }), nil
}

func (r *memRepo) ListByDoctor(_ context.Context, doctorID int64) ([]Mapping, error) {
	return r.list(func(m Mapping) bool { return m.DoctorID == doctorID }), nil
}

func (r *memRepo) CountByStatus(_ context.Context) (map[Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Status]int64{}
	for _, m := range r.byAppt {
		out[m.Status]++
	}
	return out, nil
}

func (r *memRepo) set(appointmentID int64, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byAppt[appointmentID]
	m.Status = status
	r.byAppt[appointmentID] = m
}

var t0 = time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestService() (*Service, *memRepo, *clock.Manual) {
	repo := newMemRepo()
	clk := clock.NewManual(t0)
	return NewService(repo, clk, zap.NewNop()), repo, clk
}

func booked(id int64) events.AppointmentBooked {
	return events.AppointmentBooked{
		AppointmentID:   id,
		PatientID:       1,
		DoctorID:        9,
		ScheduledAt:     t0.Add(48 * time.Hour),
		AppointmentType: "CONSULTATION",
		Status:          "SCHEDULED",
		BookedAt:        t0,
	}
}

func TestOnAppointmentBookedCreatesConfirmedMapping(t *testing.T) {
	svc, repo, _ := newTestService()

	m, err := svc.OnAppointmentBooked(context.Background(), booked(501))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, m.Status)
	assert.Equal(t, int64(501), m.AppointmentID)
	assert.Equal(t, int64(1), m.PatientID)
	assert.Equal(t, int64(9), m.DoctorID)
	assert.Equal(t, t0.Add(48*time.Hour), m.AppointmentTime)
	assert.NotEmpty(t, m.ID)
	assert.Len(t, repo.byAppt, 1)
}

func TestOnAppointmentBookedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	first, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)
	second, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, StatusConfirmed, second.Status)
	assert.Len(t, repo.byAppt, 1)
}

func TestOnAppointmentBookedDoesNotRegressAdvancedMapping(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	_, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)
	_, err = svc.AdvanceToSessionReady(ctx, 501)
	require.NoError(t, err)

	m, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)
	assert.Equal(t, StatusSessionReady, m.Status)
	assert.Equal(t, StatusSessionReady, repo.byAppt[501].Status)
}

func TestOnAppointmentBookedFinishesAfterCrashBetweenWrites(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	// the insert happened, the confirm did not
	repo.casErr = errors.New("connection reset")
	_, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.Error(t, err)
	assert.Equal(t, StatusPending, repo.byAppt[501].Status)

	m, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, m.Status)
	assert.Len(t, repo.byAppt, 1)
}

func TestOnAppointmentBookedConvergesOnLostInsertRace(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	// a concurrent delivery already created and confirmed the mapping, but
	// this one read before that happened
	repo.byAppt[501] = Mapping{ID: "winner", AppointmentID: 501, Status: StatusConfirmed}
	m, err := svc.create(ctx, booked(501))
	require.NoError(t, err)
	assert.Equal(t, "winner", m.ID)
	assert.Equal(t, StatusConfirmed, m.Status)
}

func TestOnAppointmentBookedConcurrentDeliveries(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.OnAppointmentBooked(ctx, booked(501))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, repo.byAppt, 1)
	assert.Equal(t, StatusConfirmed, repo.byAppt[501].Status)
}

func TestCancelledBookingStartsCancelled(t *testing.T) {
	svc, _, _ := newTestService()
	ev := booked(501)
	ev.Status = "CANCELLED"

	m, err := svc.OnAppointmentBooked(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, m.Status)
}

func TestClosedBookingsStartClosedAndStayClosed(t *testing.T) {
	ctx := context.Background()

	for booking, want := range map[string]Status{
		"COMPLETED": StatusCompleted,
		"NO_SHOW":   StatusCancelled,
		"cancelled": StatusCancelled,
		"SCHEDULED": StatusConfirmed,
	} {
		t.Run(booking, func(t *testing.T) {
			svc, repo, _ := newTestService()
			ev := booked(501)
			ev.Status = booking

			m, err := svc.OnAppointmentBooked(ctx, ev)
			require.NoError(t, err)
			assert.Equal(t, want, m.Status)

			// A later redelivery of the live booking never reopens it.
			ev.Status = "SCHEDULED"
			m, err = svc.OnAppointmentBooked(ctx, ev)
			require.NoError(t, err)
			assert.Equal(t, want, m.Status)

			ok, err := svc.CanCreateSession(ctx, 501)
			require.NoError(t, err)
			assert.Equal(t, want == StatusConfirmed, ok)
			assert.Len(t, repo.byAppt, 1)
		})
	}
}

func TestCanCreateSession(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	ok, err := svc.CanCreateSession(ctx, 501)
	require.NoError(t, err)
	assert.False(t, ok, "missing mapping")

	_, err = svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)

	for _, tc := range []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusConfirmed, true},
		{StatusSessionReady, true},
		{StatusCompleted, false},
		{StatusCancelled, false},
	} {
		repo.set(501, tc.status)
		ok, err := svc.CanCreateSession(ctx, 501)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, tc.status)
	}
}

func TestAdvanceToSessionReadyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, repo, clk := newTestService()

	_, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)
	clk.Advance(time.Minute)

	m, err := svc.AdvanceToSessionReady(ctx, 501)
	require.NoError(t, err)
	assert.Equal(t, StatusSessionReady, m.Status)
	assert.Equal(t, t0.Add(time.Minute), m.UpdatedAt)

	calls := repo.casCalls
	m, err = svc.AdvanceToSessionReady(ctx, 501)
	require.NoError(t, err)
	assert.Equal(t, StatusSessionReady, m.Status)
	assert.Equal(t, calls, repo.casCalls)

	_, err = svc.AdvanceToSessionReady(ctx, 999)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestSetStatusFollowsStateMachine(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()
	_, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, 501, StatusSessionReady)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, fault.KindPreconditionFailed, fault.KindOf(err))

	_, err = svc.SetStatus(ctx, 501, StatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	m, err := svc.SetStatus(ctx, 501, StatusConfirmed)
	require.NoError(t, err, "same status is a no-op")
	assert.Equal(t, StatusConfirmed, m.Status)

	m, err = svc.SetStatus(ctx, 501, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, m.Status)

	_, err = svc.SetStatus(ctx, 501, StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "already CANCELLED")
	assert.Equal(t, StatusCancelled, repo.byAppt[501].Status)

	_, err = svc.SetStatus(ctx, 999, StatusCancelled)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))

	_, err = svc.SetStatus(ctx, 501, Status("ARCHIVED"))
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestRecordSessionOutcome(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	_, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)
	_, err = svc.AdvanceToSessionReady(ctx, 501)
	require.NoError(t, err)

	m, err := svc.RecordSessionOutcome(ctx, 501, OutcomeCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, m.Status)

	m, err = svc.RecordSessionOutcome(ctx, 501, OutcomeCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, m.Status)

	_, err = svc.RecordSessionOutcome(ctx, 501, OutcomeCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRecordSessionOutcomeFromConfirmed(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	_, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)

	m, err := svc.RecordSessionOutcome(ctx, 501, OutcomeCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, m.Status)
}

func TestRecordSessionOutcomeOnPendingIsInternalFault(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()
	_, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)
	repo.set(501, StatusPending)

	_, err = svc.RecordSessionOutcome(ctx, 501, OutcomeCompleted)
	assert.Equal(t, fault.KindInternal, fault.KindOf(err))
	assert.Equal(t, StatusPending, repo.byAppt[501].Status)
}

func TestStatusNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()
	_, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)

	steps := []func() error{
		func() error { _, err := svc.AdvanceToSessionReady(ctx, 501); return err },
		func() error { _, err := svc.OnAppointmentBooked(ctx, booked(501)); return err },
		func() error { _, err := svc.SetStatus(ctx, 501, StatusConfirmed); return err },
		func() error { _, err := svc.RecordSessionOutcome(ctx, 501, OutcomeCompleted); return err },
		func() error { _, err := svc.AdvanceToSessionReady(ctx, 501); return err },
		func() error { _, err := svc.OnAppointmentBooked(ctx, booked(501)); return err },
	}

	last := repo.byAppt[501].Status.Rank()
	for _, step := range steps {
		_ = step()
		rank := repo.byAppt[501].Status.Rank()
		assert.GreaterOrEqual(t, rank, last)
		last = rank
	}
	assert.Equal(t, StatusCompleted, repo.byAppt[501].Status)
}

func TestCountsByStatusIncludesZeros(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	_, err := svc.OnAppointmentBooked(ctx, booked(501))
	require.NoError(t, err)
	_, err = svc.OnAppointmentBooked(ctx, booked(502))
	require.NoError(t, err)

	counts, err := svc.CountsByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, counts, len(AllStatuses))
	assert.Equal(t, int64(2), counts[StatusConfirmed])
	assert.Zero(t, counts[StatusPending])
}

func TestListsNeverNil(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	ms, err := svc.ListByStatus(ctx, StatusPending)
	require.NoError(t, err)
	assert.NotNil(t, ms)

	ms, err = svc.ListByPatient(ctx, 1)
	require.NoError(t, err)
	assert.NotNil(t, ms)

	_, err = svc.ListByStatus(ctx, Status("nope"))
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestHandleAppointmentBooked(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()
	bus := eventbus.NewMemoryBus()

	payload, err := events.Encode(events.TypeAppointmentBooked, events.Key(501), "appointment-service", t0, booked(501))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, events.TopicAppointmentBooked, events.Key(501), payload))
	require.NoError(t, bus.Publish(ctx, events.TopicAppointmentBooked, events.Key(501), payload))

	require.NoError(t, bus.Drain(ctx, events.TopicAppointmentBooked, "session-service", svc.HandleAppointmentBooked))
	require.Len(t, repo.byAppt, 1)
	assert.Equal(t, StatusConfirmed, repo.byAppt[501].Status)

	err = svc.HandleAppointmentBooked(ctx, eventbus.NewDelivery("9", events.TopicAppointmentBooked, "x", []byte(`{}`), 1, nil))
	assert.True(t, eventbus.IsPermanent(err))
}

func TestParseStatusAndTransitions(t *testing.T) {
	s, err := ParseStatus("session_ready")
	require.NoError(t, err)
	assert.Equal(t, StatusSessionReady, s)

	_, err = ParseStatus("DONE")
	assert.Error(t, err)

	assert.True(t, CanTransition(StatusPending, StatusConfirmed))
	assert.False(t, CanTransition(StatusCompleted, StatusCancelled))
	assert.False(t, CanTransition(StatusConfirmed, StatusPending))
	assert.True(t, StatusCancelled.Terminal())
}
