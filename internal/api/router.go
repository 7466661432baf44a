package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/mapping"
	"github.com/hackgods/telehealth-scheduling/internal/registration"
	"github.com/hackgods/telehealth-scheduling/internal/session"
)

type PatientRegistrar interface {
	Register(ctx context.Context, req registration.RegisterRequest) (*registration.RegisterResult, error)
	Get(ctx context.Context, id int64) (*registration.Patient, error)
}

type AppointmentBooker interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.BookResult, error)
	Get(ctx context.Context, id int64) (*appointment.Appointment, error)
	ListByPatient(ctx context.Context, patientID int64) ([]appointment.Appointment, error)
	SetStatus(ctx context.Context, id int64, status appointment.AppointmentStatus) (*appointment.Appointment, error)
	CheckEligibility(ctx context.Context, patientID int64) (bool, error)
	ListEligiblePatients(ctx context.Context) ([]int64, error)
}

type SessionManager interface {
	CreateSession(ctx context.Context, req session.CreateRequest) (*session.Session, error)
	CreateFromAppointment(ctx context.Context, req session.CreateRequest) (*session.Session, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	StartSession(ctx context.Context, id string) (*session.Session, error)
	MarkInProgress(ctx context.Context, id string) (*session.Session, error)
	Complete(ctx context.Context, id string) (*session.Session, error)
	Cancel(ctx context.Context, id string) (*session.Session, error)
	MarkNoShow(ctx context.Context, id string) (*session.Session, error)
	ListByPatient(ctx context.Context, patientID int64) ([]session.Session, error)
	ListByDoctor(ctx context.Context, doctorID int64) ([]session.Session, error)
	AddAttachment(ctx context.Context, a session.Attachment) (*session.Attachment, error)
	RemoveAttachment(ctx context.Context, attachmentID string) error
	ListAttachments(ctx context.Context, sessionID string) ([]session.Attachment, error)
}

type MappingManager interface {
	Get(ctx context.Context, appointmentID int64) (*mapping.Mapping, error)
	SetStatus(ctx context.Context, appointmentID int64, status mapping.Status) (*mapping.Mapping, error)
	ListByStatus(ctx context.Context, status mapping.Status) ([]mapping.Mapping, error)
	ListByPatient(ctx context.Context, patientID int64) ([]mapping.Mapping, error)
	ListByDoctor(ctx context.Context, doctorID int64) ([]mapping.Mapping, error)
	CountsByStatus(ctx context.Context) (map[mapping.Status]int64, error)
}

func newBaseRouter(health *HealthHandler, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoverMiddleware(logger))

	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	return r
}

// NewPatientRouter serves the registration service.
func NewPatientRouter(svc PatientRegistrar, health *HealthHandler, logger *zap.Logger) http.Handler {
	r := newBaseRouter(health, logger)

	r.Post("/patients", registerPatientHandler(svc, logger))
	r.Get("/patients/{id}", getPatientHandler(svc, logger))

	return r
}

// NewAppointmentRouter serves the booking service.
func NewAppointmentRouter(svc AppointmentBooker, health *HealthHandler, logger *zap.Logger) http.Handler {
	r := newBaseRouter(health, logger)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(svc, logger))
		r.Get("/eligible-patients", eligiblePatientsHandler(svc, logger))
		r.Get("/patient/{patientId}", listPatientAppointmentsHandler(svc, logger))
		r.Get("/patient/{patientId}/eligible", patientEligibilityHandler(svc, logger))
		r.Get("/{id}", getAppointmentHandler(svc, logger))
		r.Put("/{id}/status", updateAppointmentStatusHandler(svc, logger))
	})

	return r
}

// NewSessionRouter serves sessions, their files, and appointment mappings.
func NewSessionRouter(sessions SessionManager, mappings MappingManager, health *HealthHandler, logger *zap.Logger) http.Handler {
	r := newBaseRouter(health, logger)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", createSessionHandler(sessions, logger))
		r.Put("/appointment/{appointmentId}", ensureSessionHandler(sessions, logger))
		r.Get("/patient/{id}", listSessionsHandler(sessions.ListByPatient, logger))
		r.Get("/doctor/{id}", listSessionsHandler(sessions.ListByDoctor, logger))
		r.Delete("/files/{fileId}", removeAttachmentHandler(sessions, logger))

		r.Get("/{id}", getSessionHandler(sessions, logger))
		r.Post("/{id}/start", sessionTransitionHandler(sessions.StartSession, logger))
		r.Post("/{id}/in-progress", sessionTransitionHandler(sessions.MarkInProgress, logger))
		r.Post("/{id}/complete", sessionTransitionHandler(sessions.Complete, logger))
		r.Post("/{id}/cancel", sessionTransitionHandler(sessions.Cancel, logger))
		r.Post("/{id}/no-show", sessionTransitionHandler(sessions.MarkNoShow, logger))
		r.Get("/{id}/files", listAttachmentsHandler(sessions, logger))
		r.Post("/{id}/files", addAttachmentHandler(sessions, logger))
	})

	r.Route("/mappings", func(r chi.Router) {
		r.Get("/", listMappingsHandler(mappings, logger))
		r.Get("/stats", mappingStatsHandler(mappings, logger))
		r.Get("/patient/{id}", listMappingsByHandler(mappings.ListByPatient, logger))
		r.Get("/doctor/{id}", listMappingsByHandler(mappings.ListByDoctor, logger))
		r.Get("/{appointmentId}", getMappingHandler(mappings, logger))
		r.Put("/{appointmentId}/status", updateMappingStatusHandler(mappings, logger))
	})

	return r
}
