package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

// retryAfterSeconds is sent with every retryable failure.
const retryAfterSeconds = 2

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// statusFor maps an error kind to its HTTP status and error code.
func statusFor(kind fault.Kind) (int, string) {
	switch kind {
	case fault.KindIneligible:
		return http.StatusUnprocessableEntity, "ineligible"
	case fault.KindNotFound:
		return http.StatusNotFound, "not_found"
	case fault.KindConflict:
		return http.StatusConflict, "conflict"
	case fault.KindPreconditionFailed:
		return http.StatusPreconditionFailed, "precondition_failed"
	case fault.KindInvalidState:
		return http.StatusConflict, "invalid_state"
	case fault.KindTransient:
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeFault turns a service error into a response. Internal errors are
// logged and their text is not sent to the client.
func writeFault(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	kind := fault.KindOf(err)
	status, code := statusFor(kind)

	switch kind {
	case fault.KindInternal:
		logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, code, "")
		return
	case fault.KindTransient:
		logger.Warn("request failed, retryable",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	if fault.Retryable(err) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeError(w, status, code, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// int64Param parses a positive integer URL parameter, writing a 400 if it is
// not one.
func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+toSnake(name), name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
