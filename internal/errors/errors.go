package errors

import (
	"fmt"
	"net/http"
)

// ErrorType represents the type of error.
type ErrorType string

const (
	// Stream lifecycle errors.
	ErrorTypeConfigInvalid  ErrorType = "CONFIG_INVALID"
	ErrorTypeConnectTimeout ErrorType = "CONNECT_TIMEOUT"
	ErrorTypeConnectError   ErrorType = "CONNECT_ERROR"
	ErrorTypeRuntimeDrop    ErrorType = "RUNTIME_DROP_DETECTED"
	ErrorTypeTeardown       ErrorType = "RESOURCE_TEARDOWN_ERROR"
	ErrorTypePTZ            ErrorType = "PTZ_ERROR"

	// API-facing errors.
	ErrorTypeValidation  ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeConflict    ErrorType = "CONFLICT"
	ErrorTypeRateLimit   ErrorType = "RATE_LIMIT"
	ErrorTypeInternal    ErrorType = "INTERNAL_ERROR"
	ErrorTypeServiceDown ErrorType = "SERVICE_DOWN"
)

// AppError represents an application error with additional context.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError.
func New(errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error.
func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Stream error constructors. These never reach HTTP responses directly; the
// session converts them to state transitions and status text.

// NewConfigInvalidError marks a camera slot as unusable by configuration.
func NewConfigInvalidError(message string) *AppError {
	return New(ErrorTypeConfigInvalid, message, http.StatusUnprocessableEntity)
}

// NewConnectTimeoutError reports a decoder that never signalled playback.
func NewConnectTimeoutError(message string) *AppError {
	return New(ErrorTypeConnectTimeout, message, http.StatusGatewayTimeout)
}

// WrapConnectError wraps a decoder or network failure during connect.
func WrapConnectError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeConnectError, message, http.StatusBadGateway)
}

// WrapRuntimeError wraps a decoder failure detected after playback started.
func WrapRuntimeError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeRuntimeDrop, message, http.StatusBadGateway)
}

// WrapTeardownError wraps a failure while releasing decoder resources.
// Teardown errors are logged and never propagated.
func WrapTeardownError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeTeardown, message, http.StatusInternalServerError)
}

// WrapPTZError wraps a PTZ collaborator failure. PTZ is best-effort, the
// caller is expected to swallow this after logging.
func WrapPTZError(err error, message string) *AppError {
	return Wrap(err, ErrorTypePTZ, message, http.StatusBadGateway)
}

// API error constructors.

// NewValidationError creates a validation error.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewConflictError creates a conflict error.
func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message, http.StatusConflict)
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string) *AppError {
	return New(ErrorTypeRateLimit, message, http.StatusTooManyRequests)
}

// NewInternalError creates an internal server error.
func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

// WrapInternalError wraps an error as internal server error.
func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message, http.StatusInternalServerError)
}

// NewServiceDownError creates a service down error.
func NewServiceDownError(service string) *AppError {
	return New(ErrorTypeServiceDown, fmt.Sprintf("%s service is currently unavailable", service), http.StatusServiceUnavailable)
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from an error.
func GetAppError(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}
