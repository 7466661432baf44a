// Package events defines the messages exchanged between the registration,
// appointment and session services.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	TopicPatientRegistered = "patient.registered"
	TopicAppointmentBooked = "appointment.booked"
	TopicSessionStarted    = "session.started"
)

const (
	TypePatientRegistered = "PATIENT_REGISTERED"
	TypeAppointmentBooked = "APPOINTMENT_BOOKED"
	TypeSessionStarted    = "SESSION_STARTED"

	SchemaVersion = "1.0"
)

// Envelope wraps every payload published on the bus.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Key        string          `json:"key"`
	Source     string          `json:"source"`
	Version    string          `json:"version"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type PatientRegistered struct {
	PatientID    int64     `json:"patient_id"`
	Contact      string    `json:"contact"`
	RegisteredAt time.Time `json:"registered_at"`
}

type AppointmentBooked struct {
	AppointmentID   int64     `json:"appointment_id"`
	PatientID       int64     `json:"patient_id"`
	DoctorID        int64     `json:"doctor_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	AppointmentType string    `json:"appointment_type"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	BookedAt        time.Time `json:"booked_at"`
}

type SessionStarted struct {
	SessionID     string    `json:"session_id"`
	AppointmentID int64     `json:"appointment_id"`
	PatientID     int64     `json:"patient_id"`
	DoctorID      int64     `json:"doctor_id"`
	SessionURL    string    `json:"session_url"`
	StartTime     time.Time `json:"start_time"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

// Key returns the ordering key for an int64 entity id.
func Key(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Encode wraps payload in an envelope and marshals it.
func Encode(eventType, key, source string, occurredAt time.Time, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		Key:        key,
		Source:     source,
		Version:    SchemaVersion,
		OccurredAt: occurredAt.UTC(),
		Payload:    body,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return data, nil
}

// Decode unmarshals an envelope and checks its type before decoding the
// payload into out.
func Decode(data []byte, wantType string, out any) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.EventType != wantType {
		return env, fmt.Errorf("unexpected event type %q, want %q", env.EventType, wantType)
	}
	if len(env.Payload) == 0 {
		return env, fmt.Errorf("%s event %s has empty payload", wantType, env.EventID)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return env, fmt.Errorf("unmarshal %s payload: %w", wantType, err)
	}
	return env, nil
}
