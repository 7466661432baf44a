package api

import (
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/mapping"
	"github.com/hackgods/telehealth-scheduling/internal/registration"
	"github.com/hackgods/telehealth-scheduling/internal/session"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type RegisterPatientRequest struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

type PatientResponse struct {
	ID             int64     `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	PhoneNumber    string    `json:"phone_number"`
	RegisteredAt   time.Time `json:"registered_at"`
	EventPublished *bool     `json:"event_published,omitempty"`
}

func toPatientResponse(p *registration.Patient) PatientResponse {
	return PatientResponse{
		ID:           p.ID,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Email:        p.Email,
		PhoneNumber:  p.PhoneNumber,
		RegisteredAt: p.RegisteredAt,
	}
}

type CreateAppointmentRequest struct {
	PatientID       int64     `json:"patient_id"`
	DoctorID        int64     `json:"doctor_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	AppointmentType string    `json:"appointment_type"`
	Reason          string    `json:"reason"`
	Notes           string    `json:"notes"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID              int64      `json:"id"`
	PatientID       int64      `json:"patient_id"`
	DoctorID        int64      `json:"doctor_id"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	AppointmentType string     `json:"appointment_type"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	EventPublished  *bool      `json:"event_published,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		ScheduledAt:     a.ScheduledAt,
		AppointmentType: a.AppointmentType,
		Status:          string(a.Status),
		Reason:          a.Reason,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		PublishedAt:     a.PublishedAt,
	}
}

type EligibilityResponse struct {
	PatientID int64 `json:"patient_id"`
	Eligible  bool  `json:"eligible"`
}

type EligiblePatientsResponse struct {
	PatientIDs []int64 `json:"patient_ids"`
	Count      int     `json:"count"`
}

type CreateSessionRequest struct {
	AppointmentID int64     `json:"appointment_id"`
	PatientID     int64     `json:"patient_id"`
	DoctorID      int64     `json:"doctor_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Notes         string    `json:"notes"`
}

type SessionResponse struct {
	ID              string     `json:"id"`
	AppointmentID   int64      `json:"appointment_id"`
	PatientID       int64      `json:"patient_id"`
	DoctorID        int64      `json:"doctor_id"`
	Status          string     `json:"status"`
	ScheduledTime   time.Time  `json:"scheduled_time"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	SessionURL      string     `json:"session_url"`
	Notes           string     `json:"notes,omitempty"`
	FileCount       int        `json:"file_count"`
	HasPatientFiles bool       `json:"has_patient_files"`
	HasDoctorFiles  bool       `json:"has_doctor_files"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toSessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:              s.ID,
		AppointmentID:   s.AppointmentID,
		PatientID:       s.PatientID,
		DoctorID:        s.DoctorID,
		Status:          string(s.Status),
		ScheduledTime:   s.ScheduledTime,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		SessionURL:      s.SessionURL,
		Notes:           s.Notes,
		FileCount:       s.FileCount,
		HasPatientFiles: s.HasPatientFiles,
		HasDoctorFiles:  s.HasDoctorFiles,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

type AddAttachmentRequest struct {
	FileName     string `json:"file_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	Category     string `json:"category"`
	UploadedBy   string `json:"uploaded_by"`
	UploadedByID int64  `json:"uploaded_by_id"`
	Description  string `json:"description"`
}

type AttachmentResponse struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	FileName     string    `json:"file_name"`
	ContentType  string    `json:"content_type,omitempty"`
	Size         int64     `json:"size"`
	Category     string    `json:"category"`
	UploadedBy   string    `json:"uploaded_by"`
	UploadedByID int64     `json:"uploaded_by_id"`
	Description  string    `json:"description,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

func toAttachmentResponse(a *session.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:           a.ID,
		SessionID:    a.SessionID,
		FileName:     a.FileName,
		ContentType:  a.ContentType,
		Size:         a.Size,
		Category:     string(a.Category),
		UploadedBy:   string(a.UploadedBy),
		UploadedByID: a.UploadedByID,
		Description:  a.Description,
		UploadedAt:   a.UploadedAt,
	}
}

type MappingResponse struct {
	ID              string    `json:"id"`
	AppointmentID   int64     `json:"appointment_id"`
	PatientID       int64     `json:"patient_id"`
	DoctorID        int64     `json:"doctor_id"`
	AppointmentType string    `json:"appointment_type"`
	AppointmentTime time.Time `json:"appointment_time"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toMappingResponse(m *mapping.Mapping) MappingResponse {
	return MappingResponse{
		ID:              m.ID,
		AppointmentID:   m.AppointmentID,
		PatientID:       m.PatientID,
		DoctorID:        m.DoctorID,
		AppointmentType: m.AppointmentType,
		AppointmentTime: m.AppointmentTime,
		Status:          string(m.Status),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

type MappingStatsResponse struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}
