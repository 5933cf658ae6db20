package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondServiceError maps err onto a status code and error body. Internal
// failures are logged and their cause is not echoed to the caller.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")
		respondError(w, catErr.StatusCode, catErr.Code, catErr.Message, nil)
		return
	}
	respondError(w, catErr.StatusCode, catErr.Code, catErr.Message, catErr.Details)
}

// Common error codes
const (
	ErrCodeInvalidInput = "INVALID_PARAMETER"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeUnavailable  = "SERVICE_UNAVAILABLE"
)
