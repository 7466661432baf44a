package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/clock"
	"github.com/hackgods/telehealth-scheduling/internal/eventbus"
	"github.com/hackgods/telehealth-scheduling/internal/events"
	"github.com/hackgods/telehealth-scheduling/internal/fault"
	"github.com/hackgods/telehealth-scheduling/internal/mapping"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
)

var ErrMappingNotReady = fmt.Errorf("appointment is not confirmed for a session: %w", fault.ErrPreconditionFailed)

// MappingGate is the part of the appointment mapping state machine the
// session lifecycle drives.
type MappingGate interface {
	CanCreateSession(ctx context.Context, appointmentID int64) (bool, error)
	AdvanceToSessionReady(ctx context.Context, appointmentID int64) (*mapping.Mapping, error)
	RecordSessionOutcome(ctx context.Context, appointmentID int64, outcome mapping.Outcome) (*mapping.Mapping, error)
}

type Options struct {
	// URLBase prefixes generated session URLs.
	URLBase string
	// Source names this service in published event envelopes.
	Source string
}

type Service struct {
	repo     Repository
	files    AttachmentRepository
	mappings MappingGate
	locker   redisclient.Locker
	bus      eventbus.Publisher
	clock    clock.Clock
	opts     Options
	logger   *zap.Logger
}

func NewService(repo Repository, files AttachmentRepository, mappings MappingGate, locker redisclient.Locker, bus eventbus.Publisher, clk clock.Clock, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.URLBase = strings.TrimRight(opts.URLBase, "/")
	return &Service{
		repo:     repo,
		files:    files,
		mappings: mappings,
		locker:   locker,
		bus:      bus,
		clock:    clk,
		opts:     opts,
		logger:   logger,
	}
}

// CreateSession creates the one session an appointment may have. It fails
// with ErrSessionExists if there already is one and with ErrMappingNotReady
// unless the appointment mapping is confirmed.
func (s *Service) CreateSession(ctx context.Context, req CreateRequest) (*Session, error) {
	sess, existed, err := s.createLocked(ctx, req)
	if err != nil {
		return nil, err
	}
	if existed {
		return nil, fmt.Errorf("appointment %d: %w", req.AppointmentID, ErrSessionExists)
	}
	return sess, nil
}

// CreateFromAppointment is CreateSession for callers that may repeat
// themselves: an existing session is returned instead of a conflict.
func (s *Service) CreateFromAppointment(ctx context.Context, req CreateRequest) (*Session, error) {
	sess, _, err := s.createLocked(ctx, req)
	return sess, err
}

func (s *Service) createLocked(ctx context.Context, req CreateRequest) (*Session, bool, error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}

	var (
		sess    *Session
		existed bool
	)
	err := s.locker.WithLock(ctx, "appointment", events.Key(req.AppointmentID), func(ctx context.Context) error {
		var err error
		sess, existed, err = s.create(ctx, req)
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.logger.Info("session create busy", zap.Int64("appointment_id", req.AppointmentID))
		}
		return nil, false, err
	}
	return sess, existed, nil
}

func (s *Service) create(ctx context.Context, req CreateRequest) (*Session, bool, error) {
	log := s.logger.With(zap.Int64("appointment_id", req.AppointmentID))

	existing, err := s.repo.GetByAppointmentID(ctx, req.AppointmentID)
	switch {
	case err == nil:
		// A previous attempt may have stored the session without advancing
		// the mapping; the advance is idempotent, so finish it here.
		if err := s.advance(ctx, req.AppointmentID); err != nil {
			return nil, false, err
		}
		return existing, true, nil
	case !errors.Is(err, ErrSessionNotFound):
		return nil, false, fmt.Errorf("load session: %w: %w", fault.ErrTransient, err)
	}

	ok, err := s.mappings.CanCreateSession(ctx, req.AppointmentID)
	if err != nil {
		return nil, false, fmt.Errorf("check appointment mapping: %w: %w", fault.ErrTransient, err)
	}
	if !ok {
		log.Info("session rejected, appointment mapping not confirmed")
		return nil, false, ErrMappingNotReady
	}

	now := s.clock.Now()
	sess := Session{
		ID:            uuid.NewString(),
		AppointmentID: req.AppointmentID,
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		Status:        StatusScheduled,
		ScheduledTime: req.ScheduledTime.UTC(),
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	sess.SessionURL = s.opts.URLBase + "/" + uuid.NewString()

	if err := s.repo.Insert(ctx, sess); err != nil {
		if errors.Is(err, ErrSessionExists) {
			winner, getErr := s.repo.GetByAppointmentID(ctx, req.AppointmentID)
			if getErr != nil {
				return nil, false, getErr
			}
			return winner, true, nil
		}
		return nil, false, fmt.Errorf("create session: %w: %w", fault.ErrTransient, err)
	}

	log.Info("session created", zap.String("session_id", sess.ID))

	if err := s.advance(ctx, req.AppointmentID); err != nil {
		return nil, false, err
	}
	return &sess, false, nil
}

func (s *Service) advance(ctx context.Context, appointmentID int64) error {
	if _, err := s.mappings.AdvanceToSessionReady(ctx, appointmentID); err != nil {
		s.logger.Warn("advance mapping to session ready failed",
			zap.Int64("appointment_id", appointmentID),
			zap.Error(err),
		)
		return fmt.Errorf("advance appointment mapping: %w: %w", fault.ErrTransient, err)
	}
	return nil
}

// StartSession moves a SCHEDULED session to STARTED and publishes
// session.started. A publish failure is returned after the state write.
func (s *Service) StartSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusScheduled {
		return nil, fmt.Errorf("session %s is %s, want %s: %w", id, sess.Status, StatusScheduled, fault.ErrInvalidState)
	}

	now := s.clock.Now()
	started, err := s.repo.CompareAndSetStatus(ctx, id, StatusScheduled, StatusStarted, StatusChange{At: now, StartTime: &now})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session started",
		zap.String("session_id", id),
		zap.Int64("appointment_id", started.AppointmentID),
	)

	if err := s.publishStarted(ctx, started); err != nil {
		s.logger.Warn("session.started publish failed", zap.String("session_id", id), zap.Error(err))
		return nil, fmt.Errorf("publish session.started: %w: %w", fault.ErrTransient, err)
	}
	return started, nil
}

func (s *Service) publishStarted(ctx context.Context, sess *Session) error {
	ev := events.SessionStarted{
		SessionID:     sess.ID,
		AppointmentID: sess.AppointmentID,
		PatientID:     sess.PatientID,
		DoctorID:      sess.DoctorID,
		SessionURL:    sess.SessionURL,
		StartTime:     *sess.StartTime,
		ScheduledTime: sess.ScheduledTime,
	}

	payload, err := events.Encode(events.TypeSessionStarted, sess.ID, s.opts.Source, *sess.StartTime, ev)
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, events.TopicSessionStarted, sess.ID, payload)
}

// MarkInProgress is called once media actually flows.
func (s *Service) MarkInProgress(ctx context.Context, id string) (*Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusInProgress {
		return sess, nil
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("session %s is %s: %w", id, sess.Status, ErrSessionEnded)
	}
	if !canTransition(sess.Status, StatusInProgress) {
		return nil, fmt.Errorf("session %s is %s: %w", id, sess.Status, fault.ErrInvalidState)
	}
	return s.repo.CompareAndSetStatus(ctx, id, sess.Status, StatusInProgress, StatusChange{At: s.clock.Now()})
}

func (s *Service) Complete(ctx context.Context, id string) (*Session, error) {
	return s.finish(ctx, id, StatusCompleted)
}

func (s *Service) Cancel(ctx context.Context, id string) (*Session, error) {
	return s.finish(ctx, id, StatusCancelled)
}

func (s *Service) MarkNoShow(ctx context.Context, id string) (*Session, error) {
	return s.finish(ctx, id, StatusNoShow)
}

// finish ends a session and forwards the outcome to the appointment mapping.
// Repeating it on a session already at the target status only re-forwards the
// outcome, which lets a caller retry after the forward failed.
func (s *Service) finish(ctx context.Context, id string, to Status) (*Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if sess.Status != to {
		if sess.Status.Terminal() {
			return nil, fmt.Errorf("session %s is %s, cannot become %s: %w", id, sess.Status, to, ErrSessionEnded)
		}
		if !canTransition(sess.Status, to) {
			return nil, fmt.Errorf("session %s is %s, cannot become %s: %w", id, sess.Status, to, fault.ErrInvalidState)
		}
		now := s.clock.Now()
		sess, err = s.repo.CompareAndSetStatus(ctx, id, sess.Status, to, StatusChange{At: now, EndTime: &now})
		if err != nil {
			return nil, err
		}
		s.logger.Info("session finished",
			zap.String("session_id", id),
			zap.Int64("appointment_id", sess.AppointmentID),
			zap.String("status", string(to)),
		)
	}

	outcome, _ := mapping.OutcomeForSession(string(to))
	if _, err := s.mappings.RecordSessionOutcome(ctx, sess.AppointmentID, outcome); err != nil {
		if errors.Is(err, mapping.ErrInvalidTransition) {
			// The mapping was closed administratively first; the session
			// outcome stands on its own.
			s.logger.Warn("appointment mapping already closed",
				zap.String("session_id", id),
				zap.Int64("appointment_id", sess.AppointmentID),
				zap.Error(err),
			)
			return sess, nil
		}
		if errors.Is(err, fault.ErrInternal) {
			return nil, err
		}
		return nil, fmt.Errorf("record session outcome: %w: %w", fault.ErrTransient, err)
	}
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID int64) ([]Session, error) {
	sessions, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID int64) ([]Session, error) {
	sessions, err := s.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

// AddAttachment records file metadata for a session and refreshes the
// session's file summary.
func (s *Service) AddAttachment(ctx context.Context, a Attachment) (*Attachment, error) {
	if strings.TrimSpace(a.FileName) == "" {
		return nil, fmt.Errorf("file_name is required: %w", fault.ErrPreconditionFailed)
	}
	uploader, err := ParseUploader(string(a.UploadedBy))
	if err != nil {
		return nil, err
	}
	category, err := ParseCategory(string(a.Category))
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetByID(ctx, a.SessionID); err != nil {
		return nil, err
	}

	a.ID = uuid.NewString()
	a.UploadedBy = uploader
	a.Category = category
	a.UploadedAt = s.clock.Now()

	err = s.locker.WithLock(ctx, "session", a.SessionID, func(ctx context.Context) error {
		if err := s.files.InsertAttachment(ctx, a); err != nil {
			return err
		}
		return s.recount(ctx, a.SessionID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session file added",
		zap.String("session_id", a.SessionID),
		zap.String("file_id", a.ID),
		zap.String("uploaded_by", string(a.UploadedBy)),
	)
	return &a, nil
}

func (s *Service) RemoveAttachment(ctx context.Context, attachmentID string) error {
	a, err := s.files.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}

	err = s.locker.WithLock(ctx, "session", a.SessionID, func(ctx context.Context) error {
		if err := s.files.DeleteAttachment(ctx, attachmentID); err != nil {
			return err
		}
		return s.recount(ctx, a.SessionID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("session file removed", zap.String("session_id", a.SessionID), zap.String("file_id", attachmentID))
	return nil
}

func (s *Service) recount(ctx context.Context, sessionID string) error {
	files, err := s.files.ListAttachments(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.repo.SetFileStats(ctx, sessionID, statsFor(files), s.clock.Now())
}

func (s *Service) ListAttachments(ctx context.Context, sessionID string) ([]Attachment, error) {
	files, err := s.files.ListAttachments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []Attachment{}
	}
	return files, nil
}
