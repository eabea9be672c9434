package utils

import (
	"net/http"
)

// Error kinds surfaced to API clients and checked by callers.
const (
	KindNotFound          = "NOT_FOUND"
	KindInvalidTransition = "INVALID_TRANSITION"
	KindDuplicateResponse = "DUPLICATE_RESPONSE"
	KindRetryExhausted    = "RETRY_EXHAUSTED"
	KindExpiredCommand    = "EXPIRED_COMMAND"
	KindUnauthorized      = "UNAUTHORIZED"
	KindBadRequest        = "BAD_REQUEST"
	KindInternal          = "INTERNAL"
)

type AppError struct {
	Code    int    // HTTP status code (e.g., 404, 409, 500)
	Kind    string // Machine-readable error kind
	Message string // User-facing message
	err     error  // Internal-facing error for logging purposes
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.err
}

// --- Error Helper Functions ---

// NewNotFoundError creates a 404 Not Found error.
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Kind:    KindNotFound,
		Message: message,
	}
}

// NewInvalidTransitionError creates a 409 error for a state change whose
// current state is not in the transition's allowed source set.
func NewInvalidTransitionError(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Kind:    KindInvalidTransition,
		Message: message,
	}
}

// NewDuplicateResponseError creates a 409 error for a response targeting an
// already-terminal command.
func NewDuplicateResponseError(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Kind:    KindDuplicateResponse,
		Message: message,
	}
}

// NewRetryExhaustedError creates a 409 error for a retry past the bound.
func NewRetryExhaustedError(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Kind:    KindRetryExhausted,
		Message: message,
	}
}

// NewExpiredCommandError creates a 410 error for an expired command.
func NewExpiredCommandError(message string) *AppError {
	return &AppError{
		Code:    http.StatusGone,
		Kind:    KindExpiredCommand,
		Message: message,
	}
}

// NewUnauthorizedError creates a 401 error for a device-credential mismatch.
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Kind:    KindUnauthorized,
		Message: message,
	}
}

// NewBadRequestError creates a 400 Bad Request error.
func NewBadRequestError(message string, originalError ...error) *AppError {
	e := &AppError{
		Code:    http.StatusBadRequest,
		Kind:    KindBadRequest,
		Message: message,
	}
	if len(originalError) > 0 {
		e.err = originalError[0]
	}
	return e
}

// NewInternalServerError creates a 500 Internal Server Error.
func NewInternalServerError(message string, originalError error) *AppError {
	return &AppError{
		Code:    http.StatusInternalServerError,
		Kind:    KindInternal,
		Message: message,
		err:     originalError,
	}
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind string) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Kind == kind
}
