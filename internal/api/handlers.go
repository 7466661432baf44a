package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/registration"
)

func registerPatientHandler(svc PatientRegistrar, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterPatientRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := svc.Register(r.Context(), registration.RegisterRequest{
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Email:       req.Email,
			PhoneNumber: req.PhoneNumber,
		})
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}

		resp := toPatientResponse(res.Patient)
		resp.EventPublished = &res.EventPublished
		writeJSON(w, http.StatusCreated, resp)
	}
}

func getPatientHandler(svc PatientRegistrar, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := int64Param(w, r, "id")
		if !ok {
			return
		}

		p, err := svc.Get(r.Context(), id)
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toPatientResponse(p))
	}
}

func createAppointmentHandler(svc AppointmentBooker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := svc.Book(r.Context(), appointment.BookRequest{
			PatientID:       req.PatientID,
			DoctorID:        req.DoctorID,
			ScheduledAt:     req.ScheduledAt,
			AppointmentType: req.AppointmentType,
			Reason:          req.Reason,
			Notes:           req.Notes,
		})
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}

		resp := toAppointmentResponse(res.Appointment)
		resp.EventPublished = &res.EventPublished
		writeJSON(w, http.StatusCreated, resp)
	}
}

func getAppointmentHandler(svc AppointmentBooker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := int64Param(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listPatientAppointmentsHandler(svc AppointmentBooker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := int64Param(w, r, "patientId")
		if !ok {
			return
		}

		appts, err := svc.ListByPatient(r.Context(), patientID)
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateAppointmentStatusHandler(svc AppointmentBooker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := int64Param(w, r, "id")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		status, err := appointment.ParseStatus(req.Status)
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}

		appt, err := svc.SetStatus(r.Context(), id, status)
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func eligiblePatientsHandler(svc AppointmentBooker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := svc.ListEligiblePatients(r.Context())
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, EligiblePatientsResponse{PatientIDs: ids, Count: len(ids)})
	}
}

func patientEligibilityHandler(svc AppointmentBooker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := int64Param(w, r, "patientId")
		if !ok {
			return
		}

		eligible, err := svc.CheckEligibility(r.Context(), patientID)
		if err != nil {
			writeFault(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, EligibilityResponse{PatientID: patientID, Eligible: eligible})
	}
}
