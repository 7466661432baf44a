package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/fault"
	"github.com/hackgods/telehealth-scheduling/internal/mapping"
	"github.com/hackgods/telehealth-scheduling/internal/session"
)

var t0 = time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)

// stubBooker embeds the interface so tests only implement what they call.
type stubBooker struct {
	AppointmentBooker
	book      func(appointment.BookRequest) (*appointment.BookResult, error)
	setStatus func(int64, appointment.AppointmentStatus) (*appointment.Appointment, error)
	eligible  []int64
}

func (s *stubBooker) Book(_ context.Context, req appointment.BookRequest) (*appointment.BookResult, error) {
	return s.book(req)
}

func (s *stubBooker) SetStatus(_ context.Context, id int64, status appointment.AppointmentStatus) (*appointment.Appointment, error) {
	return s.setStatus(id, status)
}

func (s *stubBooker) ListEligiblePatients(context.Context) ([]int64, error) {
	return s.eligible, nil
}

type stubSessions struct {
	SessionManager
	start  func(string) (*session.Session, error)
	ensure func(session.CreateRequest) (*session.Session, error)
}

func (s *stubSessions) CreateFromAppointment(_ context.Context, req session.CreateRequest) (*session.Session, error) {
	return s.ensure(req)
}

func (s *stubSessions) StartSession(_ context.Context, id string) (*session.Session, error) {
	return s.start(id)
}

type stubMappings struct {
	MappingManager
	counts map[mapping.Status]int64
	byStat map[mapping.Status][]mapping.Mapping
}

func (s *stubMappings) CountsByStatus(context.Context) (map[mapping.Status]int64, error) {
	return s.counts, nil
}

func (s *stubMappings) ListByStatus(_ context.Context, status mapping.Status) ([]mapping.Mapping, error) {
	return s.byStat[status], nil
}

func noDeps() *HealthHandler {
	return NewHealthHandler("test", "v0")
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusForKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", fault.ErrIneligible), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", fault.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", fault.ErrConflict), http.StatusConflict},
		{fmt.Errorf("x: %w", fault.ErrPreconditionFailed), http.StatusPreconditionFailed},
		{fmt.Errorf("x: %w", fault.ErrInvalidState), http.StatusConflict},
		{fmt.Errorf("x: %w", fault.ErrTransient), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := statusFor(fault.KindOf(tc.err))
		assert.Equal(t, tc.want, status, tc.err.Error())
	}
}

func TestBookIneligibleIs422(t *testing.T) {
	svc := &stubBooker{book: func(appointment.BookRequest) (*appointment.BookResult, error) {
		return nil, appointment.ErrPatientIneligible
	}}
	h := NewAppointmentRouter(svc, noDeps(), zap.NewNop())

	rec := do(t, h, http.MethodPost, "/appointments", `{"patient_id":1,"doctor_id":2,"scheduled_at":"2030-06-03T08:00:00Z"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ineligible", body.Error)
}

func TestBookReportsUnpublishedEvent(t *testing.T) {
	var got appointment.BookRequest
	svc := &stubBooker{book: func(req appointment.BookRequest) (*appointment.BookResult, error) {
		got = req
		return &appointment.BookResult{
			Appointment: &appointment.Appointment{
				ID: 5, PatientID: req.PatientID, DoctorID: req.DoctorID,
				ScheduledAt: req.ScheduledAt, Status: appointment.StatusScheduled, CreatedAt: t0, UpdatedAt: t0,
			},
			EventPublished: false,
		}, nil
	}}
	h := NewAppointmentRouter(svc, noDeps(), zap.NewNop())

	rec := do(t, h, http.MethodPost, "/appointments", `{"patient_id":1,"doctor_id":2,"scheduled_at":"2030-06-03T08:00:00Z","appointment_type":"CONSULTATION"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(1), got.PatientID)
	assert.Equal(t, "CONSULTATION", got.AppointmentType)
	assert.Equal(t, t0.Add(48*time.Hour), got.ScheduledAt.UTC())

	var body AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(5), body.ID)
	require.NotNil(t, body.EventPublished)
	assert.False(t, *body.EventPublished)
}

func TestMalformedBodyAndIDs(t *testing.T) {
	h := NewAppointmentRouter(&stubBooker{}, noDeps(), zap.NewNop())

	rec := do(t, h, http.MethodPost, "/appointments", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/appointments/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/appointments/patient/-3/eligible", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	called := false
	svc := &stubBooker{setStatus: func(int64, appointment.AppointmentStatus) (*appointment.Appointment, error) {
		called = true
		return nil, nil
	}}
	h := NewAppointmentRouter(svc, noDeps(), zap.NewNop())

	rec := do(t, h, http.MethodPut, "/appointments/4/status", `{"status":"ARCHIVED"}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.False(t, called)
}

func TestEligiblePatientsRoute(t *testing.T) {
	h := NewAppointmentRouter(&stubBooker{eligible: []int64{3, 4}}, noDeps(), zap.NewNop())

	rec := do(t, h, http.MethodGet, "/appointments/eligible-patients", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body EligiblePatientsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, []int64{3, 4}, body.PatientIDs)
}

func TestStartSessionErrorsMapToStatus(t *testing.T) {
	sessions := &stubSessions{start: func(id string) (*session.Session, error) {
		switch id {
		case "busy":
			return nil, fmt.Errorf("publish session.started: %w", fault.ErrTransient)
		case "done":
			return nil, fmt.Errorf("session done is COMPLETED: %w", fault.ErrInvalidState)
		}
		return &session.Session{ID: id, Status: session.StatusStarted}, nil
	}}
	h := NewSessionRouter(sessions, &stubMappings{}, noDeps(), zap.NewNop())

	rec := do(t, h, http.MethodPost, "/sessions/done/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))

	rec = do(t, h, http.MethodPost, "/sessions/busy/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = do(t, h, http.MethodPost, "/sessions/abc/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "STARTED", body.Status)
}

func TestEnsureSessionForAppointmentIsRepeatable(t *testing.T) {
	stored := map[int64]*session.Session{}
	var calls int
	sessions := &stubSessions{ensure: func(req session.CreateRequest) (*session.Session, error) {
		calls++
		if s, ok := stored[req.AppointmentID]; ok {
			return s, nil
		}
		s := &session.Session{ID: "s-1", AppointmentID: req.AppointmentID, PatientID: req.PatientID, DoctorID: req.DoctorID, Status: session.StatusScheduled}
		stored[req.AppointmentID] = s
		return s, nil
	}}
	h := NewSessionRouter(sessions, &stubMappings{}, noDeps(), zap.NewNop())

	body := `{"patient_id":1,"doctor_id":2,"scheduled_time":"2030-06-03T08:00:00Z"}`
	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPut, "/sessions/appointment/42", body)
		require.Equal(t, http.StatusOK, rec.Code)
		var got SessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "s-1", got.ID)
		assert.Equal(t, int64(42), got.AppointmentID)
	}
	assert.Equal(t, 2, calls)
	assert.Len(t, stored, 1)

	rec := do(t, h, http.MethodPut, "/sessions/appointment/42", `{"appointment_id":7,"patient_id":1,"doctor_id":2,"scheduled_time":"2030-06-03T08:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/sessions/appointment/zero", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 2, calls)
}

func TestMappingStatsAndList(t *testing.T) {
	mappings := &stubMappings{
		counts: map[mapping.Status]int64{mapping.StatusConfirmed: 2, mapping.StatusCompleted: 1, mapping.StatusPending: 0},
		byStat: map[mapping.Status][]mapping.Mapping{
			mapping.StatusConfirmed: {{ID: "a", AppointmentID: 1, Status: mapping.StatusConfirmed}},
			mapping.StatusCompleted: {{ID: "b", AppointmentID: 2, Status: mapping.StatusCompleted}},
		},
	}
	h := NewSessionRouter(&stubSessions{}, mappings, noDeps(), zap.NewNop())

	rec := do(t, h, http.MethodGet, "/mappings/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats MappingStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.ByStatus["CONFIRMED"])

	rec = do(t, h, http.MethodGet, "/mappings?status=confirmed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []MappingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].AppointmentID)

	rec = do(t, h, http.MethodGet, "/mappings", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = do(t, h, http.MethodGet, "/mappings?status=lost", "")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestReadiness(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	cases := []struct {
		name   string
		deps   []Dependency
		code   int
		status string
	}{
		{"all up", []Dependency{{Name: "postgres", Critical: true, Ping: up}, {Name: "redis", Ping: up}}, http.StatusOK, "ok"},
		{"optional down", []Dependency{{Name: "postgres", Critical: true, Ping: up}, {Name: "redis", Ping: down}}, http.StatusOK, "degraded"},
		{"critical down", []Dependency{{Name: "mongo", Critical: true, Ping: down}, {Name: "redis", Ping: up}}, http.StatusServiceUnavailable, "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewPatientRouter(nil, NewHealthHandler("test", "v0", tc.deps...), zap.NewNop())
			rec := do(t, h, http.MethodGet, "/health/ready", "")
			assert.Equal(t, tc.code, rec.Code)

			var body ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Status)
			assert.Len(t, body.Dependencies, len(tc.deps))
		})
	}
}

func TestRequestIDEchoedAndPanicRecovered(t *testing.T) {
	h := NewSessionRouter(&stubSessions{}, &stubMappings{}, noDeps(), zap.NewNop())

	// stubSessions does not implement Get; the nil embedded interface panics.
	req := httptest.NewRequest(http.MethodGet, "/sessions/s1", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestToSnake(t *testing.T) {
	assert.Equal(t, "patient_id", toSnake("patientId"))
	assert.Equal(t, "id", toSnake("id"))
}
