package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// Error is the body of every non-2xx JSON response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// Details lists every violated rule for validation failures.
	Details []string `json:"details,omitempty"`
}

// Machine-readable values of Error.Code.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeUnavailable    = "service_unavailable"
	ErrCodeInternal       = "internal_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError maps an auth.Service error kind onto a response.
// Messages for 401, 503 and 500 are fixed so that no internal detail or
// credential hint reaches the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		body := Error{Status: http.StatusBadRequest, Code: ErrCodeValidation, Message: err.Error()}
		var verr *auth.ValidationError
		if errors.As(err, &verr) {
			body.Message = "validation failed"
			body.Details = verr.Violations
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, auth.ErrUnauthorized):
		writeUnauthorized(w, "invalid credentials")
	case errors.Is(err, auth.ErrForbidden):
		writeForbidden(w, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, auth.ErrUnavailable):
		s.logger.Error("store unavailable", "path", r.URL.Path, "request_id", requestID(r), "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "service temporarily unavailable")
	default:
		s.logger.Error("unexpected service error", "path", r.URL.Path, "request_id", requestID(r), "error", err)
		writeInternalError(w, "internal server error")
	}
}
