// Package apierror defines the error taxonomy shared by every handler and
// middleware. All failures cross the HTTP boundary in one stable JSON shape:
//
//	{"error": {"code": "...", "message": "...", "details": {...}}}
//
// The code vocabulary is fixed and independent of storage-layer error text,
// so clients can switch on it without parsing messages. Authentication
// failures (bad credential) and authorization failures (good credential,
// insufficient role) are deliberately distinct codes mapping to 401 and 403.
package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Code identifies a failure class in API responses.
type Code string

const (
	CodeUnauthorized     Code = "unauthorized"
	CodeForbidden        Code = "forbidden"
	CodeValidationFailed Code = "validation_failed"
	CodeNotFound         Code = "not_found"
	CodeGone             Code = "gone"
	CodeRateLimited      Code = "rate_limited"
	CodeInternal         Code = "internal_error"
)

// Error is the canonical API error. Status is the HTTP status the boundary
// maps it to; Details is optional machine-readable context.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`

	// cause is an underlying sentinel preserved for errors.Is checks. It
	// never reaches the response body.
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithCause attaches an underlying error so callers can distinguish failure
// modes that share one client-facing code.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Unauthorized reports an authentication failure (missing, malformed, revoked,
// or unknown credential).
func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message, Status: http.StatusUnauthorized}
}

// Forbidden reports an authorization failure. Not-found and insufficient-role
// both surface here so responses do not leak resource existence.
func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message, Status: http.StatusForbidden}
}

// Validation reports malformed input, e.g. a rejected sink URL.
func Validation(message string) *Error {
	return &Error{Code: CodeValidationFailed, Message: message, Status: http.StatusUnprocessableEntity}
}

// NotFound reports a missing resource in contexts where existence is not
// sensitive (the caller already has access to the enclosing scope).
func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

// Gone reports a one-time token that is expired or already consumed.
func Gone(message string) *Error {
	return &Error{Code: CodeGone, Message: message, Status: http.StatusGone}
}

// RateLimited reports a rejected request with retry metadata.
func RateLimited(limit int, windowMS, retryAfterSec int64) *Error {
	return &Error{
		Code:    CodeRateLimited,
		Message: "rate limit exceeded",
		Status:  http.StatusTooManyRequests,
		Details: map[string]any{
			"limit":           limit,
			"window_ms":       windowMS,
			"retry_after_sec": retryAfterSec,
		},
	}
}

// Internal wraps a storage or infrastructure failure without leaking its text.
func Internal() *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Status: http.StatusInternalServerError}
}

// Abort writes err as the response body and stops the handler chain. Non-API
// errors are surfaced as a generic internal error.
func Abort(c *gin.Context, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal()
	}
	c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
}

// IsCode reports whether err is an *Error carrying the given code.
func IsCode(err error, code Code) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
