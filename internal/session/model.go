package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusStarted    Status = "STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusStarted, StatusCancelled, StatusNoShow},
	StatusStarted:    {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type Session struct {
	ID              string     `bson:"_id"`
	AppointmentID   int64      `bson:"appointment_id"`
	PatientID       int64      `bson:"patient_id"`
	DoctorID        int64      `bson:"doctor_id"`
	Status          Status     `bson:"status"`
	ScheduledTime   time.Time  `bson:"scheduled_time"`
	StartTime       *time.Time `bson:"start_time,omitempty"`
	EndTime         *time.Time `bson:"end_time,omitempty"`
	SessionURL      string     `bson:"session_url"`
	Notes           string     `bson:"notes,omitempty"`
	FileCount       int        `bson:"file_count"`
	HasPatientFiles bool       `bson:"has_patient_files"`
	HasDoctorFiles  bool       `bson:"has_doctor_files"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

type CreateRequest struct {
	AppointmentID int64
	PatientID     int64
	DoctorID      int64
	ScheduledTime time.Time
	Notes         string
}

func (r CreateRequest) validate() error {
	switch {
	case r.AppointmentID <= 0:
		return fmt.Errorf("appointment_id must be positive: %w", fault.ErrPreconditionFailed)
	case r.PatientID <= 0:
		return fmt.Errorf("patient_id must be positive: %w", fault.ErrPreconditionFailed)
	case r.DoctorID <= 0:
		return fmt.Errorf("doctor_id must be positive: %w", fault.ErrPreconditionFailed)
	case r.ScheduledTime.IsZero():
		return fmt.Errorf("scheduled_time is required: %w", fault.ErrPreconditionFailed)
	}
	return nil
}

type FileCategory string

const (
	CategoryMedicalRecord FileCategory = "MEDICAL_RECORD"
	CategoryPrescription  FileCategory = "PRESCRIPTION"
	CategoryLabReport     FileCategory = "LAB_REPORT"
	CategoryImage         FileCategory = "IMAGE"
	CategoryDocument      FileCategory = "DOCUMENT"
	CategoryOther         FileCategory = "OTHER"
)

// ParseCategory accepts any casing; an empty category is OTHER.
func ParseCategory(raw string) (FileCategory, error) {
	c := FileCategory(strings.ToUpper(strings.TrimSpace(raw)))
	switch c {
	case "":
		return CategoryOther, nil
	case CategoryMedicalRecord, CategoryPrescription, CategoryLabReport, CategoryImage, CategoryDocument, CategoryOther:
		return c, nil
	}
	return "", fmt.Errorf("unknown file category %q: %w", raw, fault.ErrPreconditionFailed)
}

type Uploader string

const (
	UploadedByPatient Uploader = "PATIENT"
	UploadedByDoctor  Uploader = "DOCTOR"
)

func ParseUploader(raw string) (Uploader, error) {
	u := Uploader(strings.ToUpper(strings.TrimSpace(raw)))
	if u != UploadedByPatient && u != UploadedByDoctor {
		return "", fmt.Errorf("uploaded_by must be PATIENT or DOCTOR, got %q: %w", raw, fault.ErrPreconditionFailed)
	}
	return u, nil
}

// Attachment is file metadata only. The bytes live in an external store.
type Attachment struct {
	ID           string       `bson:"_id"`
	SessionID    string       `bson:"session_id"`
	FileName     string       `bson:"file_name"`
	ContentType  string       `bson:"content_type,omitempty"`
	Size         int64        `bson:"size"`
	Category     FileCategory `bson:"category"`
	UploadedBy   Uploader     `bson:"uploaded_by"`
	UploadedByID int64        `bson:"uploaded_by_id"`
	Description  string       `bson:"description,omitempty"`
	UploadedAt   time.Time    `bson:"uploaded_at"`
}

// FileStats is the attachment summary denormalized onto a session.
type FileStats struct {
	Count      int
	HasPatient bool
	HasDoctor  bool
}

// statsFor derives the summary from the complete attachment list.
func statsFor(files []Attachment) FileStats {
	st := FileStats{Count: len(files)}
	for _, f := range files {
		switch f.UploadedBy {
		case UploadedByPatient:
			st.HasPatient = true
		case UploadedByDoctor:
			st.HasDoctor = true
		}
	}
	return st
}
