package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/market-sync/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents bad caller input (4xx)
	CategoryValidation ErrorCategory = "invalid_parameter"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySystem represents internal errors (5xx)
	CategorySystem ErrorCategory = "internal"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents Redis errors
	CategoryCache ErrorCategory = "cache"
	// CategoryUpstream represents failures talking to the market feed
	CategoryUpstream ErrorCategory = "upstream"
	// CategoryUpstreamRateLimit represents feed throttling (420/429)
	CategoryUpstreamRateLimit ErrorCategory = "upstream_rate_limit"
	// CategoryLockContention represents a lock already held by another run
	CategoryLockContention ErrorCategory = "lock_contention"
	// CategoryRateLimit represents API callers exceeding their limit
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewRateLimitError creates an API rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewUpstreamError wraps a failed market feed request. status is the HTTP
// status returned by the feed, or 0 for transport failures.
func NewUpstreamError(endpoint string, status int, cause error) *CategorizedError {
	category := CategoryUpstream
	code := "UPSTREAM_ERROR"
	if status == 420 || status == http.StatusTooManyRequests {
		category = CategoryUpstreamRateLimit
		code = "UPSTREAM_RATE_LIMIT"
	}
	return &CategorizedError{
		Category:   category,
		StatusCode: http.StatusBadGateway,
		Code:       code,
		Message:    fmt.Sprintf("market feed request failed: %s (status %d)", endpoint, status),
		Cause:      cause,
		Details: map[string]interface{}{
			"endpoint":       endpoint,
			"upstreamStatus": status,
		},
	}
}

// NewLockContentionError reports that key is held by another run
func NewLockContentionError(key string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryLockContention,
		StatusCode: http.StatusConflict,
		Code:       "LOCK_HELD",
		Message:    fmt.Sprintf("lock %s is held by another run", key),
		Details: map[string]interface{}{
			"key": key,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	out := &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
	switch err.Code {
	case "INVALID_PARAMETER":
		out.Category, out.StatusCode = CategoryValidation, http.StatusBadRequest
	case "NOT_FOUND", "REGION_NOT_FOUND", "SYSTEM_NOT_FOUND":
		out.Category, out.StatusCode = CategoryNotFound, http.StatusNotFound
	}
	return out
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is worth another attempt
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryUpstreamRateLimit, CategoryDatabase, CategoryCache:
		return true
	case CategoryUpstream:
		status, _ := catErr.Details["upstreamStatus"].(int)
		return status == 0 || status >= 500
	default:
		return false
	}
}

// IsLockContention reports whether err means another run holds the lock
func IsLockContention(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryLockContention
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
