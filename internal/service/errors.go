package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/unnati-rahatwal/Techvanza/internal/provenance"
)

type AppError struct {
	HTTPStatus int
	Code       string
	Message    string
	Retryable  bool
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(status int, code, msg string, retryable bool, cause error) *AppError {
	return &AppError{
		HTTPStatus: status,
		Code:       code,
		Message:    msg,
		Retryable:  retryable,
		Cause:      cause,
	}
}

func IsCode(err error, code string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

func Internal(msg string, cause error) *AppError {
	return NewAppError(http.StatusInternalServerError, "INTERNAL_ERROR", msg, true, cause)
}

func BadRequest(msg string) *AppError {
	return NewAppError(http.StatusBadRequest, "BAD_REQUEST", msg, false, nil)
}

func NotFound(msg string) *AppError {
	return NewAppError(http.StatusNotFound, "NOT_FOUND", msg, false, nil)
}

func Conflict(msg string, cause error) *AppError {
	return NewAppError(http.StatusConflict, "CONFLICT", msg, false, cause)
}

func Forbidden(msg string) *AppError {
	return NewAppError(http.StatusForbidden, "FORBIDDEN", msg, false, nil)
}

// fromStore maps a storage or event log failure. StoreUnavailable becomes a
// retryable 503; anything else is internal.
func fromStore(msg string, err error) *AppError {
	if errors.Is(err, provenance.ErrStoreUnavailable) {
		return NewAppError(http.StatusServiceUnavailable, "STORE_UNAVAILABLE", msg, true, err)
	}
	return Internal(msg, err)
}
