package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/hrauth/pkg/auth"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes an error body with an explicit kind and message.
func WriteErrorMessage(w http.ResponseWriter, status int, kind, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: kind, Message: message})
}

// WriteError maps err onto its status and kind. Errors outside the auth
// taxonomy are reported as internal errors without their text.
func WriteError(w http.ResponseWriter, err error) {
	status := auth.HTTPStatus(err)
	resp := ErrorResponse{Error: auth.ErrorKind(err), Message: err.Error()}

	if status == http.StatusInternalServerError {
		resp.Message = "internal server error"
	}

	var locked *auth.LockedError
	if errors.As(err, &locked) {
		resp.Message = auth.ErrAccountLocked.Error()
		resp.Details = map[string]string{"locked_until": locked.Until.UTC().Format(time.RFC3339)}
		w.Header().Set("Retry-After", retryAfter(locked.Until))
	}

	_ = WriteJSON(w, status, resp)
}

func retryAfter(until time.Time) string {
	secs := int64(time.Until(until).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return formatInt(secs)
}

// WriteValidationError writes a validation error response (400 Bad Request)
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, "validation_error", message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, retry time.Duration) {
	if retry > 0 {
		w.Header().Set("Retry-After", formatInt(int64(retry.Seconds())+1))
	}
	WriteErrorMessage(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
