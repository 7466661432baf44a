package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/mapping"
	"github.com/hackgods/telehealth-scheduling/internal/session"
)

func createSessionHandler(svc SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		sess, err := svc.CreateSession(r.Context(), session.CreateRequest{
			AppointmentID: req.AppointmentID,
			PatientID:     req.PatientID,
			DoctorID:      req.DoctorID,
			ScheduledTime: req.ScheduledTime,
			Notes:         req.Notes,
		})
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSessionResponse(sess))
	}
}

// ensureSessionHandler creates the session for the appointment in the path,
// or returns the one that already exists. Repeating the call is safe.
func ensureSessionHandler(svc SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := int64Param(w, r, "appointmentId")
		if !ok {
			return
		}

		var req CreateSessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.AppointmentID != 0 && req.AppointmentID != appointmentID {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id in body does not match path")
			return
		}

		sess, err := svc.CreateFromAppointment(r.Context(), session.CreateRequest{
			AppointmentID: appointmentID,
			PatientID:     req.PatientID,
			DoctorID:      req.DoctorID,
			ScheduledTime: req.ScheduledTime,
			Notes:         req.Notes,
		})
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func getSessionHandler(svc SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

// sessionTransitionHandler serves the start, in-progress, complete, cancel
// and no-show endpoints, which differ only in the service call.
func sessionTransitionHandler(do func(ctx context.Context, id string) (*session.Session, error), logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := do(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func listSessionsHandler(list func(ctx context.Context, id int64) ([]session.Session, error), logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := int64Param(w, r, "id")
		if !ok {
			return
		}

		sessions, err := list(r.Context(), id)
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}

		resp := make([]SessionResponse, 0, len(sessions))
		for i := range sessions {
			resp = append(resp, toSessionResponse(&sessions[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func addAttachmentHandler(svc SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddAttachmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		a, err := svc.AddAttachment(r.Context(), session.Attachment{
			SessionID:    chi.URLParam(r, "id"),
			FileName:     req.FileName,
			ContentType:  req.ContentType,
			Size:         req.Size,
			Category:     session.FileCategory(req.Category),
			UploadedBy:   session.Uploader(req.UploadedBy),
			UploadedByID: req.UploadedByID,
			Description:  req.Description,
		})
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAttachmentResponse(a))
	}
}

func listAttachmentsHandler(svc SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := svc.ListAttachments(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}

		resp := make([]AttachmentResponse, 0, len(files))
		for i := range files {
			resp = append(resp, toAttachmentResponse(&files[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func removeAttachmentHandler(svc SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RemoveAttachment(r.Context(), chi.URLParam(r, "fileId")); err != nil {
			writeFault(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func getMappingHandler(svc MappingManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := int64Param(w, r, "appointmentId")
		if !ok {
			return
		}

		m, err := svc.Get(r.Context(), id)
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toMappingResponse(m))
	}
}

func updateMappingStatusHandler(svc MappingManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := int64Param(w, r, "appointmentId")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		status, err := mapping.ParseStatus(req.Status)
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}

		m, err := svc.SetStatus(r.Context(), id, status)
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toMappingResponse(m))
	}
}

// listMappingsHandler filters by ?status=, or returns every status when the
// parameter is absent.
func listMappingsHandler(svc MappingManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := mapping.AllStatuses
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := mapping.ParseStatus(raw)
			if err != nil {
				writeFault(w, r, logger, err)
				return
			}
			statuses = []mapping.Status{status}
		}

		resp := []MappingResponse{}
		for _, status := range statuses {
			ms, err := svc.ListByStatus(r.Context(), status)
			if err != nil {
				writeFault(w, r, logger, err)
				return
			}
			for i := range ms {
				resp = append(resp, toMappingResponse(&ms[i]))
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func mappingStatsHandler(svc MappingManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := svc.CountsByStatus(r.Context())
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}

		resp := MappingStatsResponse{ByStatus: make(map[string]int64, len(counts))}
		for status, n := range counts {
			resp.ByStatus[string(status)] = n
			resp.Total += n
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listMappingsByHandler(list func(ctx context.Context, id int64) ([]mapping.Mapping, error), logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := int64Param(w, r, "id")
		if !ok {
			return
		}

		ms, err := list(r.Context(), id)
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}

		resp := make([]MappingResponse, 0, len(ms))
		for i := range ms {
			resp = append(resp, toMappingResponse(&ms[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
