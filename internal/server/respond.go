package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"tryon/internal/api"
	"tryon/internal/jobs"
	"tryon/internal/logging"
	"tryon/internal/services"
	"tryon/internal/tryon"
)

const messageInternal = "Internal server error"

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload)
}

// writeError renders the failure envelope. cause only surfaces as message in
// development.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string, cause error) {
	if status >= http.StatusInternalServerError && cause != nil {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "request failed", "request_failed",
			logging.Error(cause),
			logging.Int("status", status),
			logging.String(logging.FieldErrorHint, "see the wrapped error for the failing component"),
			logging.String(logging.FieldImpact, "client received an error response"),
		)
	}
	s.writeJSON(w, status, api.NewError(message, s.detail(cause)))
}

// writeServiceError maps err to a status code. Client errors carry their own
// message; server errors are reported generically.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.writeError(w, r, status, messageInternal, err)
		return
	}
	s.writeJSON(w, status, api.NewError(clientMessage(err), ""))
}

func (s *Server) detail(err error) string {
	if err == nil || !s.cfg.IsDevelopment() {
		return ""
	}
	return err.Error()
}

// clientMessage picks the most specific user-facing text carried by err.
func clientMessage(err error) string {
	var validation *tryon.ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}
	if errors.Is(err, jobs.ErrInFlight) {
		return jobs.ErrInFlight.Error()
	}
	return err.Error()
}
