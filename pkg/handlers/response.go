package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/logging"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteError writes err as a JSON error response, choosing the status from
// its error class. Unclassified errors become 500 "internal".
func WriteError(w http.ResponseWriter, err error) error {
	code := "internal"
	if apperrors.Classified(err) {
		code = apperrors.Kind(err)
	}
	return ErrorResponse(w, StatusForError(err), code, logging.SanitizeError(err))
}

// StatusForError maps an apperrors class to an HTTP status.
func StatusForError(err error) int {
	if !apperrors.Classified(err) {
		return http.StatusInternalServerError
	}
	switch apperrors.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "conflict", "schema_conflict", "transaction_state":
		return http.StatusConflict
	case "transaction_busy", "connection":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
