package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCategory represents the category of error
type ErrorCategory string

const (
	// Infrastructure Errors (1xxx)
	ErrPersistence        = "SRCH-1001" // Job or result state could not be written
	ErrQueuePublish       = "SRCH-1002" // Continuation could not be enqueued
	ErrServiceUnavailable = "SRCH-1003" // Dependency service down

	// Authenticity Errors (2xxx)
	ErrSignatureMissing = "SRCH-2001" // No signature header on delivery
	ErrSignatureInvalid = "SRCH-2002" // Signature did not verify
	ErrUnauthorized     = "SRCH-2003" // API caller not authenticated

	// Validation Errors (3xxx)
	ErrInvalidInput     = "SRCH-3001" // Invalid parameters
	ErrMalformedJobID   = "SRCH-3002" // Job id absent or not a UUID
	ErrNoRoute          = "SRCH-3003" // No provider route for the requested search
	ErrMalformedPayload = "SRCH-3004" // Delivery body could not be decoded

	// Operation Errors (4xxx)
	ErrJobNotFound      = "SRCH-4001" // Job does not exist
	ErrCampaignNotFound = "SRCH-4002" // Campaign does not exist
	ErrTooEarly         = "SRCH-4003" // Delivery arrived before its scheduled time
	ErrForbidden        = "SRCH-4004" // Resource belongs to another user

	// System Errors (5xxx)
	ErrInternalError = "SRCH-5001" // Unexpected internal error
	ErrPanic         = "SRCH-5002" // Panic recovery
)

// AppError carries a taxonomy code alongside the underlying cause
type AppError struct {
	Code       string         `json:"code"`
	Category   ErrorCategory  `json:"category"`
	Message    string         `json:"message"`
	Retryable  bool           `json:"retryable"`
	RetryAfter *time.Duration `json:"retry_after,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Cause      error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code string, message string) *AppError {
	return &AppError{
		Code:      code,
		Category:  getCategoryFromCode(code),
		Message:   message,
		Retryable: isRetryableCode(code),
		Timestamp: time.Now(),
	}
}

// Newf creates a new AppError with a formatted message
func Newf(code string, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error
func Wrap(err error, code string, message string) *AppError {
	if err == nil {
		return nil
	}
	e := New(code, message)
	e.Cause = err
	return e
}

// WithRetryAfter records when the caller may try again
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = &d
	return e
}

// CodeOf returns the taxonomy code of err, or ErrInternalError when err carries none
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternalError
}

// Is reports whether err carries the given taxonomy code
func Is(err error, code string) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HTTPStatus maps an error onto the response status the queue transport expects.
// Everything except persistence and unexpected failures is 4xx so the
// upstream queue stops redelivering.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrSignatureMissing, ErrSignatureInvalid, ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrInvalidInput, ErrMalformedJobID, ErrNoRoute, ErrMalformedPayload:
		return http.StatusBadRequest
	case ErrJobNotFound, ErrCampaignNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrTooEarly:
		return http.StatusTooManyRequests
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// getCategoryFromCode determines category from error code
func getCategoryFromCode(code string) ErrorCategory {
	if len(code) < 6 {
		return ErrorCategory("unknown")
	}

	prefix := code[5:6] // first digit after "SRCH-"
	switch prefix {
	case "1":
		return ErrorCategory("infrastructure")
	case "2":
		return ErrorCategory("authenticity")
	case "3":
		return ErrorCategory("validation")
	case "4":
		return ErrorCategory("operation")
	case "5":
		return ErrorCategory("system")
	default:
		return ErrorCategory("unknown")
	}
}

// isRetryableCode determines if an error code is retryable
func isRetryableCode(code string) bool {
	switch code {
	case ErrPersistence, ErrQueuePublish, ErrServiceUnavailable, ErrTooEarly:
		return true
	default:
		return false
	}
}
