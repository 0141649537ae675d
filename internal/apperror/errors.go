// Package apperror defines the gateway's HTTP-facing error taxonomy.
package apperror

import "net/http"

// Code is a machine-readable error identifier returned in API responses.
type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeInternal           Code = "INTERNAL_SERVER_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeRateLimited        Code = "RATE_LIMIT_EXCEEDED"
)

// AppError is a structured error carrying an HTTP status and a stable code.
type AppError struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// ErrorResponse is the JSON body shape for failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    Code   `json:"code"`
	Details string `json:"details,omitempty"`
}

// ToResponse renders the error as the API's standard JSON error body.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   "request_failed",
		Message: e.Message,
		Code:    e.Code,
		Details: e.Details,
	}
}

func statusFor(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// New builds an AppError for code, deriving its HTTP status automatically.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusFor(code)}
}

// NewWithDetails is New plus a details string surfaced to the caller.
func NewWithDetails(code Code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusFor(code)}
}

// Wrap adapts a generic error into an internal AppError, preserving its
// message as the details field so the original cause isn't lost in logs.
func Wrap(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "internal server error",
		Details:    err.Error(),
		StatusCode: http.StatusInternalServerError,
	}
}

func BadRequest(message string) *AppError   { return New(CodeBadRequest, message) }
func Unauthorized(message string) *AppError { return New(CodeUnauthorized, message) }
func Forbidden(message string) *AppError    { return New(CodeForbidden, message) }
func NotFound(message string) *AppError     { return New(CodeNotFound, message) }
func Conflict(message string) *AppError     { return New(CodeConflict, message) }
