package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// malformedResponse is reported when the remote answered with invalid JSON.
const malformedResponse = "Malformed JSON response."

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error to a status code and the message shown to the
// client. fallback is shown for server-side failures.
func statusFor(err error, fallback string) (int, string) {
	var ve *schema.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, schema.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, schema.ErrDecode):
		return http.StatusBadRequest, malformedResponse
	case errors.Is(err, schema.ErrNotFound):
		return http.StatusNotFound, "Not found."
	case errors.Is(err, schema.ErrConflict):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, fallback
	}
}

// reportError logs err and writes the mapped status and message.
func (a *API) reportError(w http.ResponseWriter, err error, fallback string) {
	code, message := statusFor(err, fallback)
	if code >= http.StatusInternalServerError {
		a.logger.Printf("ERROR: %s: %v", fallback, err)
	} else {
		a.logger.Printf("WARNING: request rejected (%d): %v", code, err)
	}
	writeJSON(w, code, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found."})
}

// orEmpty keeps empty lists encoding as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
